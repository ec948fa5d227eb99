// Package graphql serves a read-only GraphQL endpoint per domain.
//
// There is no generated schema: a query document is parsed with gqlparser
// and executed against the domain's catalog model, so a schema reload is
// visible to the next request without rebuilding anything.
//
// # Query type
//
// Every class that is not an alias contributes two root fields, named by
// the PascalCase class name:
//
//	{Type}(_key: ID!): Type
//	{Type}List(filter: [String], sort: [String], skip: Int, limit: Int, search: String): TypeResults
//
// TypeResults carries results_total and results. Relation fields of an
// object return the same results wrapper over the related objects and
// accept filter, edge_filter, sort, skip, limit and search. Their
// statements are scoped to the relation exactly like the dotted REST
// arguments, e.g.
//
//	{
//	  ThingList(filter: ["name == 'a'"], limit: 10) {
//	    results_total
//	    results {
//	      _key
//	      name
//	      parts(sort: ["-name"]) { results { _key name _edge { role } } }
//	    }
//	  }
//	}
//
// compiles to the same request as
//
//	?filter=name == 'a'&limit=10&relation=parts&sort=parts.-name
//
// Besides its attributes, constants and relations every object answers
// __typename, _key, _class, _edge (the traversed edge of a related object)
// and _all (the whole translated object).
//
// # Errors
//
// Errors carry the HTTP status of the equivalent REST call in
// extensions.code. Parse and operation errors answer 400 without data;
// field errors null the failing root field and keep the rest.
//
// Mutations are not served; objects are changed through the REST API.
//
// # Usage
//
//	h, err := graphql.NewHandler(engine, graphql.DefaultConfig(), graphql.WithVersion(version))
//	if err != nil {
//	    return err
//	}
//	gw.Mount(h)
package graphql
