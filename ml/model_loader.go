package ml

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/peterbourgon/diskv"
	"github.com/pkg/errors"
)

const (
	ModelFile  = "art01_model.json"
	ScalerFile = "scaler.json"

	tempDirName = ".tmp"
)

// ErrNoArtifacts means neither artifact file exists.
var ErrNoArtifacts = errors.New("no model artifacts")

// ArtifactStore keeps the fitted scaler and forest as two JSON files at fixed
// names inside one directory. Each file is written through a temp file and
// renamed into place.
type ArtifactStore struct {
	dir string
	kv  *diskv.Diskv
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, errors.New("artifact dir is required")
	}
	tempDir := filepath.Join(dir, tempDirName)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact dir")
	}
	kv := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 0,
		PathPerm:     0o755,
		FilePerm:     0o644,
		TempDir:      tempDir,
	})
	return &ArtifactStore{dir: dir, kv: kv}, nil
}

func (s *ArtifactStore) Dir() string { return s.dir }

// ModelPath is the fixed location of the persisted classifier.
func (s *ArtifactStore) ModelPath() string { return filepath.Join(s.dir, ModelFile) }

func (s *ArtifactStore) ScalerPath() string { return filepath.Join(s.dir, ScalerFile) }

// IsArtifact reports whether path names one of the two artifact files.
func (s *ArtifactStore) IsArtifact(path string) bool {
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(s.dir) {
		return false
	}
	name := filepath.Base(path)
	return name == ModelFile || name == ScalerFile
}

// Save writes the classifier and then the scaler, overwriting both. The pair
// is not atomic: a failed scaler write leaves the new model beside the old
// scaler, which Load rejects through the run id.
func (s *ArtifactStore) Save(scaler *StandardScaler, forest *RandomForest) error {
	if scaler == nil || !scaler.Fitted() {
		return errors.New("scaler not fitted")
	}
	if forest == nil || !forest.Fitted() {
		return errors.New("model not trained")
	}
	if scaler.RunID != forest.RunID {
		return errors.Errorf("scaler run %q does not match model run %q", scaler.RunID, forest.RunID)
	}
	if err := s.write(ModelFile, forest); err != nil {
		return err
	}
	return s.write(ScalerFile, scaler)
}

// Load reads both artifacts. ErrNoArtifacts is returned when neither exists;
// a lone artifact, a pair from different runs or a pair with different
// feature counts is an error.
func (s *ArtifactStore) Load() (*StandardScaler, *RandomForest, error) {
	hasModel, hasScaler := s.kv.Has(ModelFile), s.kv.Has(ScalerFile)
	switch {
	case !hasModel && !hasScaler:
		return nil, nil, ErrNoArtifacts
	case !hasModel:
		return nil, nil, errors.Errorf("%s present without %s", s.ScalerPath(), s.ModelPath())
	case !hasScaler:
		return nil, nil, errors.Errorf("%s present without %s", s.ModelPath(), s.ScalerPath())
	}

	scaler := NewStandardScaler()
	if err := s.read(ScalerFile, scaler); err != nil {
		return nil, nil, err
	}
	forest := &RandomForest{}
	if err := s.read(ModelFile, forest); err != nil {
		return nil, nil, err
	}

	if !scaler.Fitted() {
		return nil, nil, errors.Errorf("%s holds no fitted scaler", s.ScalerPath())
	}
	if !forest.Fitted() {
		return nil, nil, errors.Errorf("%s holds no trained model", s.ModelPath())
	}
	if scaler.RunID != forest.RunID {
		return nil, nil, errors.Errorf("%s is from run %q, %s from run %q",
			s.ModelPath(), forest.RunID, s.ScalerPath(), scaler.RunID)
	}
	if forest.NumFeatures != len(scaler.Features) {
		return nil, nil, errors.Errorf("model expects %d features, scaler has %d", forest.NumFeatures, len(scaler.Features))
	}
	return scaler, forest, nil
}

func (s *ArtifactStore) write(key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := s.kv.Write(key, payload); err != nil {
		return errors.Wrapf(err, "write %s", filepath.Join(s.dir, key))
	}
	return nil
}

func (s *ArtifactStore) read(key string, v interface{}) error {
	payload, err := s.kv.Read(key)
	if err != nil {
		return errors.Wrapf(err, "read %s", filepath.Join(s.dir, key))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrapf(err, "decode %s", filepath.Join(s.dir, key))
	}
	return nil
}
