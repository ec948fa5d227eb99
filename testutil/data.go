package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/search"
)

// DBSchemaYAML is the backend schema used across package tests.
const DBSchemaYAML = `
collections:
  dataset:
    properties:
      name: {type: string}
      description: {type: string}
      active: {type: boolean, default: true}
      _version: {type: string}
      _index: {type: string}
      creator: {type: string}
      created: {type: string}
      updated: {type: string}
  entity:
    properties:
      name: {type: string}
      secret: {type: string, writeOnly: true}
      _version: {type: string}
      created: {type: string}
edge_collections:
  includes:
    properties:
      label: {type: string}
      weight: {type: number, default: 1}
  relates:
    properties: {}
`

// DomainYAML is the domain schema used across package tests. Dataset is
// self-referential through includes; Admin is an alias of Person serving
// create and update.
const DomainYAML = `
Dataset:
  description: A collection of objects
  resolver: dataset
  triggers: [set_creator, set_created, set_updated, audit]
  attributes:
    name: name
    description: description
    active: active
    created: created
    updated: updated
  relations:
    objects: [Dataset, includes, outbound]
    parents: [Dataset, includes, inbound]
    members: [[Person, Dataset], includes, 1..2 outbound]
    anything: [ANY, relates, any]
Person:
  description: A person
  resolver: entity
  permissive: both
  constants:
    kind: person
  attributes:
    name: name
    password: secret
  relations:
    datasets: [Dataset, includes, inbound]
Admin:
  description: A person with elevated rights
  resolver: entity
  alias: Person
  operations: [create, update]
  attributes:
    name: name
    password: secret
ReadOnlyThing:
  description: Cannot be changed
  resolver: entity
  operations: [read]
  attributes:
    name: name
`

// SearchYAML is the search configuration used across package tests.
const SearchYAML = `
view_name: memoriam_text_search
view_props:
  links:
    dataset:
      fields:
        _index: {analyzers: [text_en]}
    entity:
      fields:
        _index: {analyzers: [text_en]}
index_fields:
  dataset: [name, description]
analyzers:
  - name: text_en
    type: text
    properties: {locale: en, stemming: false}
    features: [frequency, norm, position]
`

// DBSchema parses DBSchemaYAML.
func DBSchema(t testing.TB) *schema.DBSchema {
	t.Helper()
	db, err := schema.ParseDBSchema([]byte(DBSchemaYAML))
	require.NoError(t, err)
	return db
}

// Model parses DomainYAML as domain "memoriam".
func Model(t testing.TB) *schema.Model {
	t.Helper()
	m, err := schema.ParseDomain("memoriam", []byte(DomainYAML), DBSchema(t))
	require.NoError(t, err)
	return m
}

// Search parses SearchYAML.
func Search(t testing.TB) *search.Config {
	t.Helper()
	cfg, err := search.ParseConfig([]byte(SearchYAML))
	require.NoError(t, err)
	return cfg
}

// Datasets are three datasets linked 1 -> 2 -> 3 through includes.
var Datasets = []map[string]any{
	{"_key": "1", "_id": "dataset/1", "_class": "dataset", "name": "a", "active": true},
	{"_key": "2", "_id": "dataset/2", "_class": "dataset", "name": "b", "active": true},
	{"_key": "3", "_id": "dataset/3", "_class": "dataset", "name": "c", "active": true},
}

// Includes are the edges between Datasets.
var Includes = []map[string]any{
	{"_key": "e1", "_id": "includes/e1", "_from": "dataset/1", "_to": "dataset/2", "label": "first"},
	{"_key": "e2", "_id": "includes/e2", "_from": "dataset/2", "_to": "dataset/3", "label": "second"},
}
