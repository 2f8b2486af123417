// Package obtree builds and reads immutable on-disk B-trees.
//
// A tree is written in one pass by a bulk build: tuples are sorted (spilling
// to disk when they exceed the memory budget), packed into 8 KiB pages laid
// out in chunks, and appended to a per-checkpoint datafile. A small file
// header names the root page and is published with a LATEST pointer, so
// readers always see a complete checkpoint.
//
// Readers descend with a lock-free fast path: non-leaf pages with
// fixed-width keys are searched in place, chunk first and item second, one
// key field at a time. Pages or keys that are not fixed-format fall back to
// a generic binary search over a page snapshot.
//
// # Quick Start
//
//	desc := obtree.NewIndex("ids").Int8("id").Text("name").Key("id").MustDescr()
//
//	tuples := []tuple.Tuple{
//	    desc.Leaf().MustEncode(tuple.Int8(2), tuple.Text("b")),
//	    desc.Leaf().MustEncode(tuple.Int8(1), tuple.Text("a")),
//	}
//	_, err := obtree.Build(ctx, "./data", "ids", desc, obtree.NewSliceSource(tuples))
//
//	idx, err := obtree.OpenLocal(ctx, "./data", "ids", desc)
//	defer idx.Close()
//
//	found, err := idx.Lookup(ctx, tuple.BoundKey(tuple.Eq(tuple.TypeInt8, tuple.Int8(1))))
//
// # Remote Storage
//
// Builds can be mirrored to S3 or MinIO with WithRemote, and trees can be
// opened straight from a remote store. WithBlockCache keeps hot datafile
// blocks in memory:
//
//	store := s3.NewStore(client, "my-bucket", "trees/")
//	idx, err := obtree.Open(ctx, store, "ids", desc, obtree.WithBlockCache(64<<20))
package obtree
