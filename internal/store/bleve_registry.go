package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
)

// registryKey is the bleve internal key holding the encoded registry.
var registryKey = []byte("_docindexer_registry")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// registry tracks the reference <-> ID mapping of a bleve index. Bleve has no
// notion of monotonically allocated IDs, so the engine keeps them here and
// stores the whole registry as an internal value on every flush.
type registry struct {
	config Config
	nextID int64
	ids    map[string]int64
	refs   map[int64]string
	props  map[string]map[string]any
	live   *roaring.Bitmap
}

type registryState struct {
	Config Config                    `json:"config"`
	NextID int64                     `json:"next_id"`
	IDs    map[string]int64          `json:"ids"`
	Props  map[string]map[string]any `json:"props,omitempty"`
	Live   []byte                    `json:"live"`
}

func newRegistry(cfg Config) *registry {
	return &registry{
		config: cfg,
		nextID: 1,
		ids:    make(map[string]int64),
		refs:   make(map[int64]string),
		props:  make(map[string]map[string]any),
		live:   roaring.New(),
	}
}

// allocate assigns a fresh ID to ref, retiring any previous one.
// It returns the new ID and the retired one (0 if none).
func (r *registry) allocate(ref string) (id, retired int64, err error) {
	if r.nextID > int64(^uint32(0)) {
		return 0, 0, fmt.Errorf("document id space exhausted")
	}

	retired = r.ids[ref]
	if retired != 0 {
		r.live.Remove(uint32(retired))
		delete(r.refs, retired)
	}

	id = r.nextID
	r.nextID++
	r.ids[ref] = id
	r.refs[id] = ref
	r.live.Add(uint32(id))
	return id, retired, nil
}

// remove drops ref and returns the ID it held.
func (r *registry) remove(ref string) (int64, bool) {
	id, ok := r.ids[ref]
	if !ok {
		return 0, false
	}
	delete(r.ids, ref)
	delete(r.refs, id)
	delete(r.props, ref)
	r.live.Remove(uint32(id))
	return id, true
}

func (r *registry) lookup(id int64) string {
	if id <= 0 || id > int64(^uint32(0)) || !r.live.Contains(uint32(id)) {
		return ""
	}
	return r.refs[id]
}

func (r *registry) maxID() int64 {
	return r.nextID - 1
}

func (r *registry) count() int64 {
	return int64(r.live.GetCardinality())
}

func (r *registry) setProps(ref string, props map[string]any) bool {
	if _, ok := r.ids[ref]; !ok {
		return false
	}
	if props == nil {
		delete(r.props, ref)
		return true
	}
	r.props[ref] = maps.Clone(props)
	return true
}

func (r *registry) getProps(ref string) (map[string]any, bool) {
	if _, ok := r.ids[ref]; !ok {
		return nil, false
	}
	return maps.Clone(r.props[ref]), true
}

func (r *registry) encode() ([]byte, error) {
	live, err := r.live.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode live set: %w", err)
	}

	data, err := json.Marshal(registryState{
		Config: r.config,
		NextID: r.nextID,
		IDs:    r.ids,
		Props:  r.props,
		Live:   live,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry: %w", err)
	}

	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func decodeRegistry(blob []byte) (*registry, error) {
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)

	data, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress registry: %w", err)
	}

	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}

	r := newRegistry(state.Config)
	r.nextID = state.NextID
	if state.IDs != nil {
		r.ids = state.IDs
	}
	if state.Props != nil {
		r.props = state.Props
	}
	for ref, id := range r.ids {
		r.refs[id] = ref
	}
	if err := r.live.UnmarshalBinary(state.Live); err != nil {
		return nil, fmt.Errorf("failed to decode live set: %w", err)
	}
	return r, nil
}
