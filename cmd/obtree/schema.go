package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/obtree"
	"github.com/hupe1980/obtree/blobstore"
	"github.com/hupe1980/obtree/tuple"
)

// schema is the descriptor of a tree as stored next to its headers. The
// datafile does not record it, so readers load it from the same store.
type schema struct {
	Fields     []schemaField `json:"fields"`
	Key        []string      `json:"key,omitempty"`
	Unique     int           `json:"unique,omitempty"`
	FillFactor int           `json:"fill_factor,omitempty"`
}

type schemaField struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Descending bool   `json:"descending,omitempty"`
	NullsFirst bool   `json:"nulls_first,omitempty"`
}

func schemaFile(name string) string { return name + ".schema.json" }

var typeNames = map[string]tuple.TypeID{
	"int4":   tuple.TypeInt4,
	"int8":   tuple.TypeInt8,
	"oid":    tuple.TypeOID,
	"float4": tuple.TypeFloat4,
	"float8": tuple.TypeFloat8,
	"tid":    tuple.TypeTID,
	"text":   tuple.TypeText,
}

// parseSchema parses "name:type[:desc][:nullsfirst],...".
func parseSchema(spec, key string, unique, fillFactor int) (schema, error) {
	s := schema{Unique: unique, FillFactor: fillFactor}
	for _, part := range strings.Split(spec, ",") {
		bits := strings.Split(strings.TrimSpace(part), ":")
		if len(bits) < 2 {
			return schema{}, fmt.Errorf("field %q: want name:type", part)
		}
		f := schemaField{Name: bits[0], Type: bits[1]}
		if _, ok := typeNames[f.Type]; !ok {
			return schema{}, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		for _, mod := range bits[2:] {
			switch mod {
			case "desc":
				f.Descending = true
			case "nullsfirst":
				f.NullsFirst = true
			default:
				return schema{}, fmt.Errorf("field %q: unknown modifier %q", f.Name, mod)
			}
		}
		s.Fields = append(s.Fields, f)
	}
	if key != "" {
		s.Key = strings.Split(key, ",")
	}
	return s, nil
}

func (s schema) descr(name string) (*tuple.IndexDescr, error) {
	b := obtree.NewIndex(name)
	for _, f := range s.Fields {
		b = b.Field(f.Name, typeNames[f.Type])
		if f.Descending {
			b = b.Descending()
		}
		if f.NullsFirst {
			b = b.NullsFirst()
		}
	}
	if len(s.Key) > 0 {
		b = b.Key(s.Key...)
	}
	if s.Unique > 0 {
		b = b.Unique(s.Unique)
	}
	if s.FillFactor > 0 {
		b = b.FillFactor(s.FillFactor)
	}
	return b.Descr()
}

func (s schema) save(ctx context.Context, store blobstore.BlobStore, name string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return store.Put(ctx, schemaFile(name), data)
}

func loadSchema(ctx context.Context, store blobstore.BlobStore, name string) (schema, error) {
	data, err := blobstore.ReadAll(ctx, store, schemaFile(name))
	if err != nil {
		return schema{}, fmt.Errorf("schema of %s: %w", name, err)
	}
	var s schema
	if err := json.Unmarshal(data, &s); err != nil {
		return schema{}, fmt.Errorf("%s: %w", schemaFile(name), err)
	}
	return s, nil
}

// parseValue parses one CSV cell. An empty cell is null.
func parseValue(typ tuple.TypeID, cell string) (tuple.Value, error) {
	if cell == "" && typ != tuple.TypeText {
		return tuple.Null(), nil
	}
	switch typ {
	case tuple.TypeInt4:
		v, err := strconv.ParseInt(cell, 10, 32)
		return tuple.Int4(int32(v)), err
	case tuple.TypeInt8:
		v, err := strconv.ParseInt(cell, 10, 64)
		return tuple.Int8(v), err
	case tuple.TypeOID:
		v, err := strconv.ParseUint(cell, 10, 32)
		return tuple.OID(uint32(v)), err
	case tuple.TypeFloat4:
		v, err := strconv.ParseFloat(cell, 32)
		return tuple.Float4(float32(v)), err
	case tuple.TypeFloat8:
		v, err := strconv.ParseFloat(cell, 64)
		return tuple.Float8(v), err
	case tuple.TypeTID:
		block, off, ok := strings.Cut(cell, "/")
		if !ok {
			return tuple.Value{}, fmt.Errorf("tid %q: want block/offset", cell)
		}
		b, err := strconv.ParseUint(block, 10, 32)
		if err != nil {
			return tuple.Value{}, err
		}
		o, err := strconv.ParseUint(off, 10, 16)
		return tuple.TIDValue(uint32(b), uint16(o)), err
	case tuple.TypeText:
		return tuple.Text(cell), nil
	}
	return tuple.Value{}, fmt.Errorf("unsupported type %s", typ)
}

func formatValue(typ tuple.TypeID, v tuple.Value) string {
	if v.Null {
		return "NULL"
	}
	switch typ {
	case tuple.TypeInt4:
		return strconv.FormatInt(int64(v.Int4()), 10)
	case tuple.TypeInt8:
		return strconv.FormatInt(v.Int8(), 10)
	case tuple.TypeOID:
		return strconv.FormatUint(uint64(v.OID()), 10)
	case tuple.TypeFloat4:
		return strconv.FormatFloat(float64(v.Float4()), 'g', -1, 32)
	case tuple.TypeFloat8:
		return strconv.FormatFloat(v.Float8(), 'g', -1, 64)
	case tuple.TypeTID:
		t := v.TID()
		return fmt.Sprintf("%d/%d", t.Block, t.Offset)
	}
	return strconv.Quote(v.Text())
}

func formatTuple(desc *tuple.IndexDescr, t tuple.Tuple) (string, error) {
	vals, err := desc.Leaf().Values(t)
	if err != nil {
		return "", err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = formatValue(desc.Fields[i].Type, v)
	}
	return strings.Join(out, ","), nil
}
