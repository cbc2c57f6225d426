/*
 *	Copyright 2024 The deeptrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package checkpoints implements persistence of trainer state, and the
// checkpoint-on-improvement callback built on top of it.
//
// A checkpoint is two artifacts per basename, restorable independently:
//
//   - <basename>.model -- gob-encoded parameter snapshot;
//   - <basename>.histo -- JSON-encoded training history.
//
// Loading the history merges it into the existing one rather than replacing
// it outright.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

const (
	// ModelSuffix is the extension of the parameter artifact.
	ModelSuffix = ".model"

	// HistorySuffix is the extension of the history artifact.
	HistorySuffix = ".histo"
)

// FilePermMode is the file creation permission (before umask) used for
// checkpoint artifacts.
var FilePermMode = os.FileMode(0660)

// matrixBlob is the gob representation of one parameter matrix. mat.Dense
// keeps its fields unexported, so the snapshot is flattened explicitly.
type matrixBlob struct {
	Rows, Cols int
	Data       []float64
}

func stateToBlobs(state train.ModelState) map[string]matrixBlob {
	blobs := make(map[string]matrixBlob, len(state))
	for name, value := range state {
		rows, cols := value.Dims()
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			data = append(data, mat.Row(nil, i, value)...)
		}
		blobs[name] = matrixBlob{Rows: rows, Cols: cols, Data: data}
	}
	return blobs
}

func blobsToState(blobs map[string]matrixBlob) (train.ModelState, error) {
	state := make(train.ModelState, len(blobs))
	for name, blob := range blobs {
		if blob.Rows*blob.Cols != len(blob.Data) {
			return nil, errors.Errorf("parameter %q: %dx%d does not match %d stored values",
				name, blob.Rows, blob.Cols, len(blob.Data))
		}
		state[name] = mat.NewDense(blob.Rows, blob.Cols, blob.Data)
	}
	return state, nil
}

// Save writes the two checkpoint artifacts for basename. Each file is
// written to a uniquely named temporary sibling and renamed into place, so
// a crash mid-save never corrupts an existing checkpoint.
func Save(basename string, state train.ModelState, hist *history.History) error {
	if err := atomicWrite(basename+ModelSuffix, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(stateToBlobs(state))
	}); err != nil {
		return errors.WithMessagef(err, "checkpoints.Save: writing model blob for %q", basename)
	}
	if err := atomicWrite(basename+HistorySuffix, func(f *os.File) error {
		encoded, err := json.Marshal(hist)
		if err != nil {
			return err
		}
		_, err = f.Write(encoded)
		return err
	}); err != nil {
		return errors.WithMessagef(err, "checkpoints.Save: writing history blob for %q", basename)
	}
	if klog.V(1).Enabled() {
		if fi, err := os.Stat(basename + ModelSuffix); err == nil {
			klog.V(1).Infof("checkpoints: saved %q (%s)", basename+ModelSuffix, humanize.Bytes(uint64(fi.Size())))
		}
	}
	return nil
}

// Load restores model parameters from <basename>.model and, if present,
// merges <basename>.histo into hist. A missing history file is not an
// error: the model blob alone is a valid checkpoint.
func Load(basename string, model train.Model, hist *history.History) error {
	f, err := os.Open(basename + ModelSuffix)
	if err != nil {
		return errors.Wrapf(err, "checkpoints.Load: opening model blob for %q", basename)
	}
	defer func() { _ = f.Close() }()

	var blobs map[string]matrixBlob
	if err = gob.NewDecoder(f).Decode(&blobs); err != nil {
		return errors.Wrapf(err, "checkpoints.Load: decoding model blob for %q", basename)
	}
	state, err := blobsToState(blobs)
	if err != nil {
		return errors.WithMessagef(err, "checkpoints.Load: decoding model blob for %q", basename)
	}
	if err = model.SetState(state); err != nil {
		return errors.WithMessagef(err, "checkpoints.Load: restoring model state from %q", basename)
	}

	encoded, err := os.ReadFile(basename + HistorySuffix)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "checkpoints.Load: reading history blob for %q", basename)
	}
	loaded := history.New()
	if err = json.Unmarshal(encoded, loaded); err != nil {
		return errors.Wrapf(err, "checkpoints.Load: decoding history blob for %q", basename)
	}
	hist.Merge(loaded)
	return nil
}

// SaveTrainer persists the trainer's current model state and history as a
// checkpoint, outside the callback flow. Useful to snapshot a finished run.
func SaveTrainer(basename string, trainer *train.Trainer) error {
	state, err := trainer.Model.State()
	if err != nil {
		return errors.WithMessage(err, "checkpoints.SaveTrainer: snapshotting model")
	}
	return Save(basename, state, trainer.History)
}

// LoadTrainer restores a checkpoint into the trainer and realigns its epoch
// counter with the restored history, so a subsequent Fit resumes where the
// checkpointed run left off.
func LoadTrainer(basename string, trainer *train.Trainer) error {
	if err := Load(basename, trainer.Model, trainer.History); err != nil {
		return err
	}
	trainer.LastEpoch = trainer.History.Train.Len(history.Losses)
	if aligner, ok := trainer.Schedule.(train.EpochAligner); ok {
		aligner.AlignEpoch(trainer.LastEpoch)
	}
	return nil
}

// Exists reports whether a checkpoint's model artifact is present for
// basename.
func Exists(basename string) bool {
	fi, err := os.Stat(basename + ModelSuffix)
	return err == nil && !fi.IsDir()
}

// atomicWrite writes path through a temp file plus rename.
func atomicWrite(path string, write func(f *os.File) error) error {
	tmpPath := path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermMode)
	if err != nil {
		return errors.Wrapf(err, "creating %q", tmpPath)
	}
	if err = write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "writing %q", tmpPath)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "renaming %q to %q", tmpPath, path)
	}
	return nil
}
