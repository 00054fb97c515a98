// Package test holds the integration test suite. It runs the full stack,
// REST layer over the postgres store, against a disposable postgres
// container and is skipped when no container runtime is available.
package test

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rackforge/metald/api"
	"github.com/rackforge/metald/core/client"
	"github.com/rackforge/metald/core/csql"
	"github.com/rackforge/metald/notify"
	"github.com/rackforge/metald/storage/pgstore"
)

// IntegrationTestSuite provisions one postgres container for the whole
// suite and a clean schema per test.
type IntegrationTestSuite struct {
	suite.Suite

	postgresContainer testcontainers.Container
	db                *csql.DB

	store    *pgstore.Store
	recorder *notify.Recorder
	client   client.Client
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	request := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: request,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("no container runtime available: %v", err)
	}
	s.postgresContainer = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db, err = csql.OpenWithSchema(
		fmt.Sprintf("host=%s port=%s user=testuser dbname=testdb sslmode=disable", host, port.Port()),
		"testpass", "metald_test")
	s.Require().NoError(err)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.postgresContainer != nil {
		s.postgresContainer.Terminate(context.Background())
	}
}

// SetupTest drops and recreates the schema so every test starts from an
// empty store.
func (s *IntegrationTestSuite) SetupTest() {
	s.Require().NoError(s.db.ClearSchema())

	store, err := pgstore.New(s.db)
	s.Require().NoError(err)
	s.store = store
	s.recorder = &notify.Recorder{}

	router := mux.NewRouter()
	api.MustNew(&api.Builder{
		Store:    store,
		Router:   router,
		Notifier: notify.Multi{s.recorder, &notify.Store{DB: store}},
	})
	s.client = client.NewWithRouter(router)
}
