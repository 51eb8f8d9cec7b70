package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stratahq/strata/common/logger"
)

func newTestCache() *MemoryCache {
	return NewMemoryCache(logger.New("error", "json"))
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}

	_, ok, _ = c.Get(ctx, "missing")
	if ok {
		t.Fatal("missing key reported as present")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), -time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expired entry still returned")
	}
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.Set(ctx, "schema:object:a", []byte("1"), time.Minute)
	c.Set(ctx, "schema:object:b", []byte("2"), time.Minute)
	c.Set(ctx, "schema:relationship:a", []byte("3"), time.Minute)

	if err := c.DeletePrefix(ctx, "schema:object:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "schema:object:a"); ok {
		t.Fatal("prefixed key survived DeletePrefix")
	}
	if _, ok, _ := c.Get(ctx, "schema:relationship:a"); !ok {
		t.Fatal("unrelated key removed by DeletePrefix")
	}
}

func TestJSONHelpers(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := SetJSON(ctx, c, "p", payload{Name: "x", Count: 3}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out payload
	ok, err := GetJSON(ctx, c, "p", &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON: ok=%v err=%v", ok, err)
	}
	if out.Name != "x" || out.Count != 3 {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestJSONHelpersNilCache(t *testing.T) {
	ctx := context.Background()

	if err := SetJSON(ctx, nil, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetJSON on nil cache: %v", err)
	}
	var out string
	ok, err := GetJSON(ctx, nil, "k", &out)
	if err != nil {
		t.Fatalf("GetJSON on nil cache: %v", err)
	}
	if ok {
		t.Fatal("nil cache reported a hit")
	}
}
