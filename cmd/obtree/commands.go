package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/obtree"
	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/internal/datafile"
	"github.com/hupe1980/obtree/tuple"
)

// commonFlags are shared by every command.
type commonFlags struct {
	dir      string
	name     string
	logLevel string
	remote   remoteFlags
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.dir, "dir", "./data", "local directory of the tree")
	fs.StringVar(&c.name, "name", "", "tree name")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	c.remote.register(fs)
}

func (c *commonFlags) options() ([]obtree.Option, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.logLevel)); err != nil {
		return nil, fmt.Errorf("-log-level: %w", err)
	}
	return []obtree.Option{obtree.WithLogLevel(lvl)}, nil
}

func parseFlags(fs *flag.FlagSet, c *commonFlags, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.name == "" {
		return errors.New("-name is required")
	}
	return nil
}

// readStore returns the store readers open the tree from: the remote store
// when one is configured, the local directory otherwise.
func (c *commonFlags) readStore(ctx context.Context) (blobstore.BlobStore, bool, error) {
	remote, err := c.remote.open(ctx)
	if err != nil {
		return nil, false, err
	}
	if remote != nil {
		return remote, true, nil
	}
	return blobstore.NewLocalStore(c.dir), false, nil
}

// openIndex loads the schema and opens the latest checkpoint, or chkp when
// it is not zero.
func (c *commonFlags) openIndex(ctx context.Context, chkp uint32) (*obtree.Index, error) {
	store, remote, err := c.readStore(ctx)
	if err != nil {
		return nil, err
	}
	s, err := loadSchema(ctx, store, c.name)
	if err != nil {
		return nil, err
	}
	desc, err := s.descr(c.name)
	if err != nil {
		return nil, err
	}
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	if chkp != 0 {
		opts = append(opts, obtree.WithCheckpoint(chkp))
	}
	if remote {
		opts = append(opts, obtree.WithBlockCache(64<<20))
	}
	return obtree.Open(ctx, store, c.name, desc, opts...)
}

// csvSource streams leaf tuples from CSV records.
type csvSource struct {
	r    *csv.Reader
	desc *tuple.IndexDescr
	line int
}

func (s *csvSource) Next(ctx context.Context) (tuple.Tuple, bool, error) {
	if err := ctx.Err(); err != nil {
		return tuple.Tuple{}, false, err
	}
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return tuple.Tuple{}, false, nil
	}
	if err != nil {
		return tuple.Tuple{}, false, err
	}
	s.line++
	if len(rec) != len(s.desc.Fields) {
		return tuple.Tuple{}, false, fmt.Errorf("record %d: %d columns, schema has %d", s.line, len(rec), len(s.desc.Fields))
	}
	vals := make([]tuple.Value, len(rec))
	for i, cell := range rec {
		if vals[i], err = parseValue(s.desc.Fields[i].Type, cell); err != nil {
			return tuple.Tuple{}, false, fmt.Errorf("record %d, field %s: %w", s.line, s.desc.Fields[i].Name, err)
		}
	}
	tup, err := s.desc.Leaf().Encode(vals)
	if err != nil {
		return tuple.Tuple{}, false, fmt.Errorf("record %d: %w", s.line, err)
	}
	return tup, true, nil
}

func runBuild(ctx context.Context, args []string) error {
	var (
		c           commonFlags
		schemaSpec  string
		key         string
		unique      int
		fill        int
		input       string
		skipHeader  bool
		compression string
		presorted   bool
		wait        bool
		sortMemory  int64
	)
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&schemaSpec, "schema", "", "fields as name:type[:desc][:nullsfirst],... (types: int4 int8 oid float4 float8 tid text)")
	fs.StringVar(&key, "key", "", "comma separated key fields (default: all fields)")
	fs.IntVar(&unique, "unique", 0, "number of leading key fields that must be unique")
	fs.IntVar(&fill, "fill", 0, "fill factor in percent (default 90)")
	fs.StringVar(&input, "csv", "-", "CSV input file, - for stdin")
	fs.BoolVar(&skipHeader, "header", false, "skip the first CSV record")
	fs.StringVar(&compression, "compression", "none", "page compression: none, lz4 or zstd")
	fs.BoolVar(&presorted, "presorted", false, "input is already in key order")
	fs.BoolVar(&wait, "wait", true, "wait for the remote upload")
	fs.Int64Var(&sortMemory, "sort-memory", 0, "sort buffer in bytes before spilling")
	if err := parseFlags(fs, &c, args); err != nil {
		return err
	}
	if schemaSpec == "" {
		return errors.New("-schema is required")
	}

	s, err := parseSchema(schemaSpec, key, unique, fill)
	if err != nil {
		return err
	}
	desc, err := s.descr(c.name)
	if err != nil {
		return err
	}
	comp, err := obtree.ParseCompression(compression)
	if err != nil {
		return err
	}
	remote, err := c.remote.open(ctx)
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	opts = append(opts, obtree.WithCompression(comp))
	if presorted {
		opts = append(opts, obtree.WithPresorted())
	}
	if sortMemory > 0 {
		opts = append(opts, obtree.WithSortMemory(sortMemory))
	}
	if remote != nil {
		opts = append(opts, obtree.WithRemote(remote))
		if wait {
			opts = append(opts, obtree.WithWaitUpload())
		}
	}

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	r := csv.NewReader(in)
	r.ReuseRecord = true
	if skipHeader {
		if _, err := r.Read(); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
	}

	start := time.Now()
	res, err := obtree.Build(ctx, c.dir, c.name, desc, &csvSource{r: r, desc: desc}, opts...)
	if err != nil {
		return err
	}
	if err := s.save(ctx, blobstore.NewLocalStore(c.dir), c.name); err != nil {
		return err
	}
	if remote != nil {
		if err := s.save(ctx, remote, c.name); err != nil {
			return err
		}
	}

	fmt.Printf("checkpoint %d: %d tuples, %d leaf pages, root level %d, %s in %v\n",
		res.Checkpoint, res.Tuples, res.LeafPages, res.RootLevel, res.DataFile, time.Since(start).Round(time.Millisecond))
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	var (
		c    commonFlags
		chkp uint
	)
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	c.register(fs)
	fs.UintVar(&chkp, "checkpoint", 0, "checkpoint to inspect (default: latest)")
	if err := parseFlags(fs, &c, args); err != nil {
		return err
	}
	store, _, err := c.readStore(ctx)
	if err != nil {
		return err
	}
	chkps, err := obtree.Checkpoints(ctx, store, c.name)
	if err != nil {
		return err
	}
	idx, err := c.openIndex(ctx, uint32(chkp))
	if err != nil {
		return err
	}
	defer idx.Close()

	h := idx.Header()
	fmt.Printf("tree:            %s\n", c.name)
	fmt.Printf("checkpoint:      %d\n", h.ChkpNum)
	fmt.Printf("root:            %s (level %d)\n", datafile.Downlink(h.RootDownlink), h.RootLevel)
	fmt.Printf("leaf pages:      %d\n", h.LeafPagesNum)
	fmt.Printf("datafile length: %d\n", h.DatafileLength)
	fmt.Printf("free blocks:     %d\n", h.NumFreeBlocks)
	fmt.Printf("ctid:            %d\n", h.Ctid)
	fmt.Printf("bridge ctid:     %d\n", h.BridgeCtid)
	names := make([]string, len(chkps))
	for i, n := range chkps {
		names[i] = fmt.Sprint(n)
	}
	fmt.Printf("checkpoints:     %s\n", strings.Join(names, " "))

	desc := idx.Descr()
	fmt.Printf("kind:            %s\n", desc.Kind)
	for i, f := range desc.Fields {
		mark := ""
		if slices.Contains(desc.KeyAttrs, i) {
			mark = " (key)"
		}
		fmt.Printf("field %d:         %s %s%s\n", i, f.Name, f.Type, mark)
	}
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	var (
		c    commonFlags
		chkp uint
	)
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	c.register(fs)
	fs.UintVar(&chkp, "checkpoint", 0, "checkpoint to verify (default: latest)")
	if err := parseFlags(fs, &c, args); err != nil {
		return err
	}
	idx, err := c.openIndex(ctx, uint32(chkp))
	if err != nil {
		return err
	}
	defer idx.Close()

	rep, err := idx.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d pages, %d leaf pages, %d tuples, pages per level %v\n", rep.Pages, rep.LeafPages, rep.Tuples, rep.Levels)
	return nil
}

func runLookup(ctx context.Context, args []string) error {
	var c commonFlags
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	c.register(fs)
	if err := parseFlags(fs, &c, args); err != nil {
		return err
	}
	idx, err := c.openIndex(ctx, 0)
	if err != nil {
		return err
	}
	defer idx.Close()

	key, err := parseKey(idx.Descr(), fs.Args())
	if err != nil {
		return err
	}
	out, err := idx.Lookup(ctx, key)
	if err != nil {
		return err
	}
	for _, t := range out {
		line, err := formatTuple(idx.Descr(), t)
		if err != nil {
			return err
		}
		fmt.Println(line)
	}
	if len(out) == 0 {
		return obtree.ErrNotFound
	}
	return nil
}

func runScan(ctx context.Context, args []string) error {
	var (
		c     commonFlags
		from  string
		limit int
		stats bool
	)
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&from, "from", "", "comma separated key prefix to start at")
	fs.IntVar(&limit, "limit", 0, "maximum number of tuples (0: all)")
	fs.BoolVar(&stats, "stats", false, "print descent counters when done")
	if err := parseFlags(fs, &c, args); err != nil {
		return err
	}
	idx, err := c.openIndex(ctx, 0)
	if err != nil {
		return err
	}
	defer idx.Close()

	key := tuple.NoneKey()
	if from != "" {
		if key, err = parseKey(idx.Descr(), strings.Split(from, ",")); err != nil {
			return err
		}
	}
	sb := idx.Search(key)
	if limit > 0 {
		sb = sb.Limit(limit)
	}
	for t, err := range sb.Stream(ctx) {
		if err != nil {
			return err
		}
		line, err := formatTuple(idx.Descr(), t)
		if err != nil {
			return err
		}
		fmt.Println(line)
	}
	if stats {
		st := idx.Stats()
		fmt.Fprintf(os.Stderr, "fast path %d, slow path %d, retries %d, page loads %d\n", st.FastPath, st.SlowPath, st.Retries, st.PageLoads)
	}
	return nil
}

// parseKey builds an equality bound over the leading key fields.
func parseKey(desc *tuple.IndexDescr, cells []string) (tuple.SearchKey, error) {
	keys := desc.KeyFields()
	if len(cells) == 0 || len(cells) > len(keys) {
		return tuple.SearchKey{}, fmt.Errorf("want 1 to %d key values, got %d", len(keys), len(cells))
	}
	bounds := make([]tuple.ValueBound, len(cells))
	for i, cell := range cells {
		v, err := parseValue(keys[i].Type, cell)
		if err != nil {
			return tuple.SearchKey{}, fmt.Errorf("key field %s: %w", keys[i].Name, err)
		}
		bounds[i] = tuple.Eq(keys[i].Type, v)
	}
	return tuple.BoundKey(bounds...), nil
}
