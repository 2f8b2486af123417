package obtree_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/obtree"
	"github.com/hupe1980/obtree/tuple"
)

// Example_buildAndLookup builds a tree from unsorted tuples and looks up a key.
func Example_buildAndLookup() {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "obtree-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	desc := obtree.NewIndex("users").
		Int8("id").
		Text("name").
		Key("id").
		MustDescr()

	var tuples []tuple.Tuple
	for _, u := range []struct {
		id   int64
		name string
	}{{3, "carol"}, {1, "alice"}, {2, "bob"}} {
		tuples = append(tuples, desc.Leaf().MustEncode(tuple.Int8(u.id), tuple.Text(u.name)))
	}

	res, err := obtree.Build(ctx, dir, "users", desc, obtree.NewSliceSource(tuples))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("checkpoint %d with %d tuples\n", res.Checkpoint, res.Tuples)

	idx, err := obtree.OpenLocal(ctx, dir, "users", desc)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	found, err := idx.Lookup(ctx, tuple.BoundKey(tuple.Eq(tuple.TypeInt8, tuple.Int8(2))))
	if err != nil {
		log.Fatal(err)
	}
	name, _ := desc.Leaf().Attr(found[0], 1)
	fmt.Println(name.Text())
	// Output:
	// checkpoint 1 with 3 tuples
	// bob
}

// Example_search streams a key range in order.
func Example_search() {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "obtree-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	desc := obtree.NewIndex("squares").Int4("n").Int8("sq").Key("n").MustDescr()
	tuples := make([]tuple.Tuple, 100)
	for i := range tuples {
		tuples[i] = desc.Leaf().MustEncode(tuple.Int4(int32(i)), tuple.Int8(int64(i*i)))
	}
	if _, err := obtree.Build(ctx, dir, "squares", desc, obtree.NewSliceSource(tuples), obtree.WithPresorted()); err != nil {
		log.Fatal(err)
	}

	idx, err := obtree.OpenLocal(ctx, dir, "squares", desc)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	from := tuple.BoundKey(tuple.Eq(tuple.TypeInt4, tuple.Int4(10)))
	until := tuple.BoundKey(tuple.Eq(tuple.TypeInt4, tuple.Int4(13)))
	for tup, err := range idx.Search(from).Until(until).Stream(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		sq, _ := desc.Leaf().Attr(tup, 1)
		fmt.Println(sq.Int8())
	}
	// Output:
	// 100
	// 121
	// 144
}
