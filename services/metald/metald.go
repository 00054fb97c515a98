package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/rackforge/metald/api"
	"github.com/rackforge/metald/core/csql"
	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/notify"
	"github.com/rackforge/metald/storage/pgstore"
)

// Service holds the configuration for the metald control plane.
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=" description:"password for the Postgres DB, injected separately so the connection string can be logged"`
	Port             string `env:"PORT,default=3000" description:"the port the service listens on"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,default=" description:"comma-separated Kafka brokers for the notification topic, empty disables publishing"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=metald-notifications" description:"the Kafka topic notifications are published to"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"log level: debug, info, warning, error"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	db, err := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "metald")
	if err != nil {
		panic(err)
	}
	defer db.Close()

	store, err := pgstore.New(db)
	if err != nil {
		panic(err)
	}

	notifiers := notify.Multi{&notify.Store{DB: store}}
	if service.KafkaBrokers != "" {
		kafka := notify.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafka.Close()
		notifiers = append(notifiers, kafka)
	}

	router := mux.NewRouter()
	api.MustNew(&api.Builder{
		Store:    store,
		Router:   router,
		Notifier: notifiers,
	})

	server := &http.Server{
		Addr:         ":" + service.Port,
		Handler:      handlers.LoggingHandler(logrus.StandardLogger().Writer(), router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	rlog.Infoln("listen on port :" + service.Port)
	if err := server.ListenAndServe(); err != nil {
		rlog.WithError(err).Fatal("server stopped")
	}
}
