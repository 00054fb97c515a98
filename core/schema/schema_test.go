package schema_test

import (
	"testing"

	"github.com/rackforge/metald/core/schema"
)

const (
	macRef = `{ "$id" : "http://rackforge.io/schemas/refs/mac.json",
	            "type" : "string",
	            "pattern" : "^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$" }`
	nameRef = `{ "$id" : "http://rackforge.io/schemas/refs/name.json",
	             "type" : "string",
	             "maxLength" : 100 }`

	nodeSchema = `
	{ "$id" : "http://rackforge.io/schemas/node.json",
	  "type" : "object",
	  "required" : [ "mac" ],
	  "properties" : {
		"mac" : { "$ref" : "http://rackforge.io/schemas/refs/mac.json" },
		"name" : { "$ref" : "http://rackforge.io/schemas/refs/name.json" }
	  }
	}`
	releaseSchema = `
	{ "$id" : "http://rackforge.io/schemas/release.json",
	  "type" : "object",
	  "required" : [ "name", "version" ],
	  "properties" : {
		"name" : { "$ref" : "http://rackforge.io/schemas/refs/name.json" },
		"version" : { "type" : "string" }
	  }
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{nodeSchema, releaseSchema}, []string{macRef, nameRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	nodeID := "http://rackforge.io/schemas/node.json"
	goodNode := `{ "mac" : "aa:bb:cc:dd:ee:01", "name" : "compute-1" }`
	badNode := `{ "mac" : "not-a-mac" }`

	if err := v.ValidateString(goodNode, nodeID); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", goodNode, nodeID, err)
	}
	if err := v.ValidateString(badNode, nodeID); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s", badNode, nodeID)
	}

	releaseID := "http://rackforge.io/schemas/release.json"
	if err := v.ValidateString(`{ "name" : "ussuri", "version" : "11.0" }`, releaseID); err != nil {
		t.Fatalf("release document is expected to be valid with schema %s. Reported error was: %v", releaseID, err)
	}
	if err := v.ValidateString(`{ "name" : "ussuri" }`, releaseID); err == nil {
		t.Fatalf("release document without version is expected to be invalid with schema %s", releaseID)
	}
}

func TestValidateStruct(t *testing.T) {
	v, err := schema.NewValidator([]string{releaseSchema}, []string{nameRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	type release struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	releaseID := "http://rackforge.io/schemas/release.json"
	if err := v.ValidateStruct(release{"ussuri", "11.0"}, releaseID); err != nil {
		t.Fatal(err)
	}

	type misnamed struct {
		Name    string `json:"release_name"`
		Version string `json:"version"`
	}
	if err := v.ValidateStruct(misnamed{"ussuri", "11.0"}, releaseID); err == nil {
		t.Fatal("document with wrong property name is expected to be invalid")
	}
}

func TestHasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{nodeSchema, releaseSchema}, []string{macRef, nameRef})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	for _, id := range []string{
		"http://rackforge.io/schemas/node.json",
		"http://rackforge.io/schemas/release.json",
	} {
		if !v.HasSchema(id) {
			t.Fatalf("%s schemaID is expected to be available", id)
		}
	}
	if v.HasSchema("http://rackforge.io/schemas/unknown.json") {
		t.Fatal("unknown schemaID is not expected to be available")
	}
}
