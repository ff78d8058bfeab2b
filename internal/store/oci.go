package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/theMackabu/volt/internal/retry"
)

// FingerprintLabel is the image config label holding the slot fingerprint.
const FingerprintLabel = "dev.volt.fingerprint"

const defaultJobs = 4

// OCIConfig points the store at a registry repository, e.g.
// "ghcr.io/acme/build-cache".
type OCIConfig struct {
	Repository string
	Insecure   bool // plain http
	Jobs       int
	Keychain   authn.Keychain
}

// OCIStore implements Store on an OCI registry. Every slot is an image
// tagged with the slot id, holding the archive as its only layer and the
// fingerprint as a config label.
type OCIStore struct {
	repo     name.Repository
	jobs     int
	keychain authn.Keychain
	policy   retry.Policy
}

func NewOCIStore(cfg OCIConfig) (*OCIStore, error) {
	var opts []name.Option
	if cfg.Insecure {
		opts = append(opts, name.Insecure)
	}
	repo, err := name.NewRepository(cfg.Repository, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", cfg.Repository, err)
	}

	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = defaultJobs
	}
	keychain := cfg.Keychain
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}

	return &OCIStore{
		repo:     repo,
		jobs:     jobs,
		keychain: keychain,
		policy: retry.Policy{
			Attempts: 3,
			Base:     retry.DefaultBase,
			Retry:    func(err error) bool { return !isNotFound(err) },
		},
	}, nil
}

func (s *OCIStore) String() string { return s.repo.String() }

// archiveLayer implements v1.Layer over an already compressed archive spooled
// to disk.
type archiveLayer struct {
	path   string
	digest v1.Hash
	diffID v1.Hash
	size   int64
}

func newArchiveLayer(path string) (*archiveLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	digest, size, err := v1.SHA256(f)
	if err != nil {
		return nil, fmt.Errorf("digest archive: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer dec.Close()
	diffID, _, err := v1.SHA256(dec)
	if err != nil {
		return nil, fmt.Errorf("digest uncompressed archive: %w", err)
	}

	return &archiveLayer{path: path, digest: digest, diffID: diffID, size: size}, nil
}

func (l *archiveLayer) Digest() (v1.Hash, error) { return l.digest, nil }
func (l *archiveLayer) DiffID() (v1.Hash, error) { return l.diffID, nil }
func (l *archiveLayer) Size() (int64, error)     { return l.size, nil }

func (l *archiveLayer) Compressed() (io.ReadCloser, error) {
	return os.Open(l.path)
}

func (l *archiveLayer) Uncompressed() (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &decoderCloser{Decoder: dec, f: f}, nil
}

func (l *archiveLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

type decoderCloser struct {
	*zstd.Decoder
	f *os.File
}

func (d *decoderCloser) Close() error {
	d.Decoder.Close()
	return d.f.Close()
}

func (s *OCIStore) Put(ctx context.Context, slot uuid.UUID, r io.Reader, fingerprint string) (int64, error) {
	f, err := os.CreateTemp("", "volt-layer-*")
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("spool archive: %w", err)
	}

	layer, err := newArchiveLayer(f.Name())
	if err != nil {
		return 0, err
	}

	img, err := s.buildImage(layer, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("build image: %w", err)
	}

	ref := s.repo.Tag(slot.String())
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, remote.Write(ref, img, s.options(ctx, remote.WithJobs(s.jobs))...)
	})
	if err != nil {
		return 0, fmt.Errorf("push image: %w", err)
	}
	return n, nil
}

func (s *OCIStore) buildImage(layer v1.Layer, fingerprint string) (v1.Image, error) {
	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, types.OCIConfigJSON)

	img, err := mutate.AppendLayers(img, layer)
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{FingerprintLabel: fingerprint}

	return mutate.ConfigFile(img, cfg)
}

func (s *OCIStore) Fingerprint(ctx context.Context, slot uuid.UUID) (string, error) {
	img, err := s.image(ctx, slot)
	if err != nil {
		return "", err
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return "", fmt.Errorf("get config: %w", err)
	}
	fp, ok := cfg.Config.Labels[FingerprintLabel]
	if !ok {
		return "", ErrNotFound
	}
	return fp, nil
}

func (s *OCIStore) Open(ctx context.Context, slot uuid.UUID) (io.ReadCloser, int64, error) {
	img, err := s.image(ctx, slot)
	if err != nil {
		return nil, 0, err
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, 0, fmt.Errorf("get layers: %w", err)
	}
	if len(layers) == 0 {
		return nil, 0, ErrNotFound
	}

	size, err := layers[0].Size()
	if err != nil {
		return nil, 0, fmt.Errorf("layer size: %w", err)
	}
	rc, err := layers[0].Compressed()
	if err != nil {
		return nil, 0, fmt.Errorf("read layer: %w", err)
	}
	return rc, size, nil
}

func (s *OCIStore) image(ctx context.Context, slot uuid.UUID) (v1.Image, error) {
	ref := s.repo.Tag(slot.String())
	img, err := retry.Do(ctx, s.policy, func(ctx context.Context) (v1.Image, error) {
		return remote.Image(ref, s.options(ctx)...)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return img, nil
}

func (s *OCIStore) options(ctx context.Context, extra ...remote.Option) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(s.keychain),
	}
	return append(opts, extra...)
}

func isNotFound(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}
