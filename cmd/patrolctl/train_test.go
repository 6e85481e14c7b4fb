package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/face"
	"github.com/stretchr/testify/assert"
)

func withFaceConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{Face: config.FaceConfig{CorpusDir: "/data/faces", ModelPath: "/data/model.yml"}}
	t.Cleanup(func() { cfg = prev })
}

func TestPrintTrainResult_Trained(t *testing.T) {
	withFaceConfig(t)

	var out bytes.Buffer
	printTrainResult(&out, &face.TrainResult{
		Labels:   []string{"alice", "bob"},
		Samples:  6,
		Skipped:  1,
		Duration: 1500 * time.Millisecond,
	})

	assert.Contains(t, out.String(), "Trained on 6 samples of 2 people")
	assert.Contains(t, out.String(), "People: alice, bob")
	assert.Contains(t, out.String(), "Skipped 1 images")
	assert.Contains(t, out.String(), "Model: /data/model.yml")
}

func TestPrintTrainResult_NoUsableFaces(t *testing.T) {
	withFaceConfig(t)

	var out bytes.Buffer
	printTrainResult(&out, &face.TrainResult{Labels: []string{"alice", "bob"}, Skipped: 5})

	assert.NotContains(t, out.String(), "Trained on")
	assert.NotContains(t, out.String(), "Model:")
	assert.Contains(t, out.String(), "No usable face in 5 images of 2 people")
	assert.Contains(t, out.String(), "No model was produced")
}

func TestPrintTrainResult_EmptyCorpus(t *testing.T) {
	withFaceConfig(t)

	var out bytes.Buffer
	printTrainResult(&out, &face.TrainResult{})

	assert.Contains(t, out.String(), "No faces found in /data/faces")
	assert.Contains(t, out.String(), "No model was produced")
}
