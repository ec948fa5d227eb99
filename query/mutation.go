package query

import "sort"

// Mutation statements bind the target collection as @@collection and the
// payload as @data. Each returns the affected documents as {new, old}.

func collectionBind(ctx *Context, collection string) Expr {
	return Bind(ctx.Set("@collection", collection))
}

func changed(withOld, withNew bool) Return {
	var obj Object
	if withNew {
		obj = append(obj, Pair{Key: Var("new"), Value: Var("NEW")})
	}
	if withOld {
		obj = append(obj, Pair{Key: Var("old"), Value: Var("OLD")})
	}
	return Return{Value: obj}
}

// InsertDoc compiles the creation of doc in collection.
func InsertDoc(collection string, doc map[string]any) *Compiled {
	ctx := NewContext()
	coll := collectionBind(ctx, collection)
	stmt := (&Statement{}).Add(
		Insert{Doc: Bind(ctx.Set("data", doc)), Into: coll},
		changed(false, true),
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "insert"}
}

// UpdateDoc compiles a patch of the document identified by doc["_key"].
// With merge unset, object values replace stored objects instead of being
// merged into them.
func UpdateDoc(collection string, doc map[string]any, merge bool) *Compiled {
	ctx := NewContext()
	coll := collectionBind(ctx, collection)
	stmt := (&Statement{}).Add(
		Update{Key: Bind(ctx.Set("data", doc)), In: coll, Options: Object{
			{Key: Var("mergeObjects"), Value: Bool(merge)},
		}},
		changed(true, true),
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "update"}
}

// RemoveDoc compiles the deletion of the document with key.
func RemoveDoc(collection, key string) *Compiled {
	ctx := NewContext()
	coll := collectionBind(ctx, collection)
	stmt := (&Statement{}).Add(
		Remove{Key: Bind(ctx.Set("_key", key)), In: coll},
		changed(true, false),
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "remove"}
}

func edgeLoop(ctx *Context, coll Expr, from, to string) []Op {
	edge := Var("edge")
	return []Op{
		For{Var: "edge", In: coll},
		Filter{Cond: Binary{
			Left:  Binary{Left: Attr{edge, "_from"}, Op: "==", Right: Bind(ctx.Set("_from", from))},
			Op:    "AND",
			Right: Binary{Left: Attr{edge, "_to"}, Op: "==", Right: Bind(ctx.Set("_to", to))},
		}},
	}
}

// UpdateEdge compiles a patch of the edges between from and to.
func UpdateEdge(collection, from, to string, data map[string]any, merge bool) *Compiled {
	ctx := NewContext()
	coll := collectionBind(ctx, collection)
	stmt := (&Statement{}).Add(edgeLoop(ctx, coll, from, to)...)
	stmt.Add(
		Update{Key: Var("edge"), With: Bind(ctx.Set("data", data)), In: coll, Options: Object{
			{Key: Var("mergeObjects"), Value: Bool(merge)},
		}},
		changed(true, true),
	)
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "update_edge"}
}

// RemoveEdge compiles the deletion of the edges between from and to.
func RemoveEdge(collection, from, to string) *Compiled {
	ctx := NewContext()
	coll := collectionBind(ctx, collection)
	stmt := (&Statement{}).Add(edgeLoop(ctx, coll, from, to)...)
	stmt.Add(Remove{Key: Var("edge"), In: coll}, changed(true, false))
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "remove_edge"}
}

// All compiles a scan of collection keeping the documents whose fields
// equal the values in equal.
func All(collection string, equal map[string]any) *Compiled {
	ctx := NewContext()
	stmt := (&Statement{}).Add(For{Var: Root, In: collectionBind(ctx, collection)})
	fields := make([]string, 0, len(equal))
	for field := range equal {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		stmt.Add(Filter{Cond: Binary{
			Left:  Attr{Var(Root), field},
			Op:    "==",
			Right: Bind(ctx.Bind(Root+"_"+field, equal[field])),
		}})
	}
	stmt.Add(Return{Value: Var(Root)})
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "all"}
}

// Lookup compiles the fetch of one document by id.
func Lookup(id string) *Compiled {
	ctx := NewContext()
	stmt := (&Statement{}).Add(Return{Value: Call{Fn: "DOCUMENT", Args: []Expr{Bind(ctx.Set("_id", id))}}})
	return &Compiled{Statement: stmt, BindVars: ctx.BindVars, Kind: "lookup"}
}
