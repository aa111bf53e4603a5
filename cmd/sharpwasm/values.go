package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lovell/sharp-sub001/napi"
)

// argList collects a repeated flag.
type argList []string

func (a *argList) String() string     { return strings.Join(*a, ",") }
func (a *argList) Set(v string) error { *a = append(*a, v); return nil }

// parseArg turns a command-line literal into a value: numbers, true, false,
// null and undefined are recognized, a double-quoted literal is unquoted and
// anything else is a string.
func parseArg(s string) (napi.Value, error) {
	switch s {
	case "true":
		return napi.Bool(true), nil
	case "false":
		return napi.Bool(false), nil
	case "null":
		return napi.Null(), nil
	case "undefined":
		return napi.Undefined(), nil
	case "NaN":
		return napi.Number(math.NaN()), nil
	}
	if strings.HasPrefix(s, `"`) {
		u, err := strconv.Unquote(s)
		if err != nil {
			return napi.Value{}, fmt.Errorf("argument %s: %w", s, err)
		}
		return napi.String(u), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return napi.Number(f), nil
	}
	return napi.String(s), nil
}

func parseArgs(in []string) ([]napi.Value, error) {
	out := make([]napi.Value, 0, len(in))
	for _, s := range in {
		v, err := parseArg(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// splitArgs splits a comma separated argument line, keeping commas inside
// double quotes.
func splitArgs(line string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && quote && i+1 < len(line):
			cur.WriteByte(c)
			i++
			cur.WriteByte(line[i])
			continue
		case c == '"':
			quote = !quote
		case c == ',' && !quote:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if s := strings.TrimSpace(cur.String()); s != "" || len(out) > 0 {
		out = append(out, s)
	}
	return out
}

const maxDepth = 3

// getter reads a property, running accessors.
type getter func(ctx context.Context, o *napi.Object, name string) (napi.Value, error)

// formatValue renders v the way a REPL would, descending maxDepth levels
// into objects.
func formatValue(ctx context.Context, get getter, v napi.Value) string {
	var b strings.Builder
	writeValue(ctx, &b, get, v, 0)
	return b.String()
}

func writeValue(ctx context.Context, b *strings.Builder, get getter, v napi.Value, depth int) {
	switch v.Kind() {
	case napi.KindUndefined, napi.KindNull:
		b.WriteString(v.Kind().String())
	case napi.KindBoolean:
		b.WriteString(strconv.FormatBool(v.Boolean()))
	case napi.KindNumber:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case napi.KindString:
		b.WriteString(strconv.Quote(v.Str()))
	case napi.KindBigInt:
		b.WriteString(v.BigIntValue().String())
		b.WriteByte('n')
	case napi.KindSymbol:
		fmt.Fprintf(b, "Symbol(%s)", v.Symbol().Description)
	case napi.KindFunction:
		name := "anonymous"
		if f := v.Object().Function(); f != nil && f.Name != "" {
			name = f.Name
		}
		fmt.Fprintf(b, "[Function: %s]", name)
	case napi.KindExternal:
		fmt.Fprintf(b, "[External: %#x]", v.Object().External())
	case napi.KindObject:
		writeObject(ctx, b, get, v.Object(), depth)
	}
}

func writeObject(ctx context.Context, b *strings.Builder, get getter, o *napi.Object, depth int) {
	open, end := "{", "}"
	if o.IsArray() {
		open, end = "[", "]"
	}
	if depth >= maxDepth {
		b.WriteString(open + "..." + end)
		return
	}
	keys := o.Keys(napi.KeyOwnOnly, napi.KeyEnumerable|napi.KeySkipSymbols, napi.KeyNumbersToStrings)
	b.WriteString(open)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		if !o.IsArray() {
			b.WriteString(k.Str())
			b.WriteString(": ")
		}
		v, err := get(ctx, o, k.Str())
		if err != nil {
			b.WriteString("<" + err.Error() + ">")
			continue
		}
		writeValue(ctx, b, get, v, depth+1)
	}
	b.WriteString(end)
}
