package artifact

import (
	"context"
	"fmt"
	"time"

	"runcell/internal/common/cache"
	appErr "runcell/pkg/errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Store is a second cache tier shared between processes. Load reports a
// miss as (nil, false, nil).
type Store interface {
	Load(ctx context.Context, key string) (*CompiledArtifact, bool, error)
	Save(ctx context.Context, a *CompiledArtifact) error
}

// storedArtifact is the wire form of a CompiledArtifact.
type storedArtifact struct {
	Key         string            `cbor:"1,keyasint"`
	Compiler    string            `cbor:"2,keyasint"`
	Classes     map[string][]byte `cbor:"3,keyasint"`
	Diagnostics []Diagnostic      `cbor:"4,keyasint,omitempty"`
	CreatedAt   int64             `cbor:"5,keyasint"`
}

var (
	storeEncMode cbor.EncMode
	zstdEncoder  *zstd.Encoder
	zstdDecoder  *zstd.Decoder
)

func init() {
	var err error
	storeEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifact: cbor encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeArtifact serializes a as zstd-compressed CBOR.
func EncodeArtifact(a *CompiledArtifact) ([]byte, error) {
	raw, err := storeEncMode.Marshal(storedArtifact{
		Key:         a.key,
		Compiler:    a.compiler,
		Classes:     a.classes,
		Diagnostics: a.diagnostics,
		CreatedAt:   a.createdAt.UnixNano(),
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ArtifactEncodeFailed)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeArtifact is the inverse of EncodeArtifact.
func DecodeArtifact(data []byte) (*CompiledArtifact, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArtifactDecodeFailed, "zstd decompress")
	}
	var s storedArtifact
	if err := cbor.Unmarshal(raw, &s); err != nil {
		return nil, appErr.Wrap(err, appErr.ArtifactDecodeFailed)
	}
	if s.Key == "" || len(s.Classes) == 0 {
		return nil, appErr.New(appErr.ArtifactDecodeFailed).WithMessage("stored artifact is incomplete")
	}
	out := &CompileOutput{Classes: s.Classes, Diagnostics: s.Diagnostics}
	return NewCompiledArtifact(s.Key, s.Compiler, out, time.Unix(0, s.CreatedAt)), nil
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps encoded artifacts in redis under KeyPrefix+key.
type RedisStore struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps c. A zero TTL keeps entries until redis evicts them.
func NewRedisStore(c cache.Cache, opts RedisStoreOptions) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "runcell:artifact:"
	}
	return &RedisStore{cache: c, prefix: prefix, ttl: opts.TTL}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*CompiledArtifact, bool, error) {
	data, err := s.cache.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.CacheError)
	}
	if data == "" {
		return nil, false, nil
	}
	a, err := DecodeArtifact([]byte(data))
	if err != nil {
		return nil, false, err
	}
	if a.Key() != key {
		return nil, false, appErr.Newf(appErr.ArtifactDecodeFailed, "stored key %q does not match %q", a.Key(), key)
	}
	return a, true, nil
}

func (s *RedisStore) Save(ctx context.Context, a *CompiledArtifact) error {
	data, err := EncodeArtifact(a)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.prefix+a.Key(), data, cache.JitterTTL(s.ttl)); err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	return nil
}

func (s *RedisStore) String() string {
	return fmt.Sprintf("redis(prefix=%s, ttl=%s)", s.prefix, s.ttl)
}
