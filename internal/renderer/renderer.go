// Package renderer drives the multi-stage render pipeline: one-shot synthesis,
// stem assembly, mixing and mastering, optional vocals and video, and upload.
// Every media operation goes through the transcoder gateway; the renderer only
// sequences invocations and verifies their outputs.
//
// Each stage works against the per-pipeline scratch directory keyed by the
// root job ID, so the stage jobs of one generation share intermediate files
// and a retried stage finds its inputs in place.
package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/sequencer"
	"github.com/songforge/songforge/internal/storage"
	"github.com/songforge/songforge/internal/transcoder"
)

// Pipeline progress anchors, reported by Render and by the pipeline job as
// stages complete. Per-stem renders spread linearly across the stems band.
const (
	ProgressPlan      = 5
	ProgressOneShots  = 10
	ProgressSequenced = 25
	ProgressStemsEnd  = 65
	ProgressMixed     = 70
	ProgressVocals    = 80
	ProgressVideo     = 88
	ProgressUploaded  = 94
	ProgressDone      = 100
)

// Stage-local anchors inside RenderStems, in 0..100 of that stage.
const (
	stemsStageOneShots  = 8
	stemsStageSequenced = 33
)

// vocalMixWeight is the gain of the vocal stem in the final mix.
const vocalMixWeight = 0.6

// Canonical artifact filenames.
const (
	FilePreview  = "preview.wav"
	FileMix      = "mix.wav"
	FileVocals   = "vocals.wav"
	FileCaptions = "captions.srt"
	FileVideo    = "final.mp4"
)

// masterFile is the pre-vocal master kept in scratch only.
const masterFile = "master.wav"

// ProgressFunc receives progress updates in 0..100.
type ProgressFunc func(percent int, message string)

// Options selects the optional pipeline stages.
type Options struct {
	// Lyrics enables the vocal stage and caption generation when non-empty.
	Lyrics string
	// GenerateVideo enables the video stage.
	GenerateVideo bool
	// VideoStyle picks the video filtergraph. Empty selects lyric when
	// captions exist, waveform otherwise.
	VideoStyle string
	// StageTimeout bounds each transcoder invocation. Zero means no limit;
	// the caller's context still applies.
	StageTimeout time.Duration
}

// ProducedAsset describes one uploaded artifact.
type ProducedAsset struct {
	Kind        models.AssetKind
	Filename    string
	Key         string
	URL         string
	SizeBytes   int64
	DurationSec float64
	Meta        models.JSON
}

// Result is the outcome of the upload stage.
type Result struct {
	AssetUUID uuid.UUID
	Assets    []ProducedAsset
}

// Config holds the renderer's fixed wiring.
type Config struct {
	// TranscoderBin is the synthesis/mux binary path.
	TranscoderBin string
	// ScratchRoot is the directory holding per-pipeline scratch trees.
	ScratchRoot string
}

/// Renderer executes render stages. Safe for concurrent use across pipelines:
// all per-pipeline state lives in the scratch dir.
type Renderer struct {
	cfg     Config
	runner  *transcoder.Runner
	prober  *transcoder.Prober
	store   storage.Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Renderer.
func New(cfg Config, runner *transcoder.Runner, prober *transcoder.Prober, store storage.Store, metrics *observability.Metrics, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TranscoderBin == "" {
		cfg.TranscoderBin = "ffmpeg"
	}
	return &Renderer{
		cfg:     cfg,
		runner:  runner,
		prober:  prober,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// ScratchDir returns the scratch directory for a pipeline scope.
func (r *Renderer) ScratchDir(scopeID string) string {
	return filepath.Join(r.cfg.ScratchRoot, scopeID)
}

// CleanupScratch removes a pipeline's scratch tree. Called after a successful
// upload; failed pipelines keep their scratch for the retry and the janitor
// GCs leftovers.
func (r *Renderer) CleanupScratch(scopeID string) error {
	return os.RemoveAll(r.ScratchDir(scopeID))
}

// Render runs the full pipeline in-process and returns the uploaded assets.
// The stage jobs compose the same methods; Render is the single-job path and
// keeps the global anchor mapping in one place.
func (r *Renderer) Render(ctx context.Context, scopeID string, plan *planner.MusicPlan, opts Options, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	log := r.logger.With(slog.String("scope_id", scopeID))
	log.Info("render started",
		slog.Int("bpm", plan.BPM),
		slog.String("key", plan.Key),
		slog.Int("duration_sec", plan.DurationSec),
	)
	progress(ProgressPlan, "plan ready")

	err := r.RenderStems(ctx, scopeID, plan, opts, func(pct int, msg string) {
		progress(ProgressPlan+pct*(ProgressStemsEnd-ProgressPlan)/100, msg)
	})
	if err != nil {
		return nil, err
	}

	if err := r.RenderMix(ctx, scopeID, plan, opts); err != nil {
		return nil, err
	}
	progress(ProgressMixed, "mixed and mastered")

	if opts.Lyrics != "" {
		if err := r.RenderVocalStem(ctx, scopeID, plan, opts); err != nil {
			return nil, err
		}
		progress(ProgressVocals, "vocals rendered")
	}

	if opts.GenerateVideo {
		if err := r.RenderVideo(ctx, scopeID, plan, opts); err != nil {
			return nil, err
		}
		progress(ProgressVideo, "video rendered")
	}

	result, err := r.Upload(ctx, scopeID, plan)
	if err != nil {
		return nil, err
	}
	progress(ProgressUploaded, "assets uploaded")

	if err := r.CleanupScratch(scopeID); err != nil {
		log.Warn("scratch cleanup failed", slog.String("error", err.Error()))
	}
	progress(ProgressDone, "done")
	log.Info("render finished", slog.Int("assets", len(result.Assets)))
	return result, nil
}

// RenderStems synthesizes the one-shot samples, expands the plan into the
// event grid, and renders one full-length mono track per stem into scratch.
// Progress is stage-local 0..100.
func (r *Renderer) RenderStems(ctx context.Context, scopeID string, plan *planner.MusicPlan, opts Options, progress ProgressFunc) error {
	if progress == nil {
		progress = func(int, string) {}
	}
	done := r.timeStage("stems")
	defer done()

	scratch := r.ScratchDir(scopeID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return models.NewClassifiedf(models.ErrClassInternalError, "creating scratch dir: %v", err)
	}

	rootHz := sequencer.RootFrequencyHz(plan.Key)
	oneShots, err := r.synthesizeOneShots(ctx, scratch, rootHz, opts)
	if err != nil {
		return err
	}
	progress(stemsStageOneShots, "one-shots synthesized")

	events := sequencer.EventsByType(sequencer.Events(plan))
	progress(stemsStageSequenced, "sequenced")

	silences := newSilenceCache(r, scratch, opts)
	span := float64(100-stemsStageSequenced) / float64(len(sequencer.StemTypes))

	for i, stem := range sequencer.StemTypes {
		base := stemsStageSequenced + int(float64(i)*span)
		listPath, err := r.writeConcatList(ctx, scratch, stem, events[stem], oneShots[stem], silences)
		if err != nil {
			return err
		}

		out := filepath.Join(scratch, stemFilename(stem))
		cmd := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
			HideBanner().
			Overwrite().
			Stats().
			ConcatInput(listPath).
			AudioCodec("pcm_s16le").
			SampleRate(sampleRateHz).
			AudioChannels(1).
			Duration(float64(plan.DurationSec)).
			Output(out).
			Build()

		stemName := string(stem)
		err = r.run(ctx, cmd, opts.StageTimeout, float64(plan.DurationSec), func(pct int, _ string) {
			progress(base+int(float64(pct)*span/100), "rendering "+stemName+" stem")
		})
		if err != nil {
			return err
		}
		if err := r.verifyAudio(ctx, out); err != nil {
			return err
		}
		progress(base+int(span), stemName+" stem rendered")
	}
	return nil
}

func stemFilename(stem sequencer.EventType) string {
	return fmt.Sprintf("stem_%s.wav", stem)
}

// synthesizeOneShots renders one hit sample per stem into the scratch dir and
// returns path and duration per stem.
func (r *Renderer) synthesizeOneShots(ctx context.Context, scratch string, rootHz float64, opts Options) (map[sequencer.EventType]oneShot, error) {
	shots := make(map[sequencer.EventType]oneShot, len(sequencer.StemTypes))
	for _, stem := range sequencer.StemTypes {
		graph, dur := oneShotGraph(stem, rootHz)
		out := filepath.Join(scratch, fmt.Sprintf("oneshot_%s.wav", stem))

		cmd := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
			HideBanner().
			Overwrite().
			LavfiInput(graph).
			AudioCodec("pcm_s16le").
			SampleRate(sampleRateHz).
			AudioChannels(1).
			Output(out).
			Build()

		if err := r.run(ctx, cmd, opts.StageTimeout, 0, nil); err != nil {
			return nil, err
		}
		if err := r.verifyNonEmpty(out); err != nil {
			return nil, err
		}
		shots[stem] = oneShot{path: out, durSec: dur}
	}
	return shots, nil
}

type oneShot struct {
	path   string
	durSec float64
}

// writeConcatList builds the concat demuxer list for one stem: alternating
// silence gaps and one-shot hits. Events landing before the previous hit has
// finished are dropped.
func (r *Renderer) writeConcatList(ctx context.Context, scratch string, stem sequencer.EventType, events []sequencer.Event, shot oneShot, silences *silenceCache) (string, error) {
	var entries []string
	cursor := 0.0
	for _, ev := range events {
		gap := ev.TSec - cursor
		if gap < -1e-9 {
			continue
		}
		if gap > 1e-3 {
			silencePath, err := silences.get(ctx, gap)
			if err != nil {
				return "", err
			}
			entries = append(entries, silencePath)
		}
		entries = append(entries, shot.path)
		cursor = ev.TSec + shot.durSec
	}

	if len(entries) == 0 {
		silencePath, err := silences.get(ctx, 1.0)
		if err != nil {
			return "", err
		}
		entries = append(entries, silencePath)
	}

	var sb strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&sb, "file '%s'\n", entry)
	}

	listPath := filepath.Join(scratch, fmt.Sprintf("stem_%s.txt", stem))
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return "", models.NewClassifiedf(models.ErrClassInternalError, "writing concat list: %v", err)
	}
	return listPath, nil
}

// silenceCache renders silence segments on demand, keyed by millisecond
// length so gaps recurring across stems reuse one file.
type silenceCache struct {
	renderer *Renderer
	scratch  string
	opts     Options
	files    map[int64]string
}

func newSilenceCache(r *Renderer, scratch string, opts Options) *silenceCache {
	return &silenceCache{renderer: r, scratch: scratch, opts: opts, files: make(map[int64]string)}
}

func (c *silenceCache) get(ctx context.Context, seconds float64) (string, error) {
	ms := int64(seconds*1000 + 0.5)
	if ms < 1 {
		ms = 1
	}
	if path, ok := c.files[ms]; ok {
		return path, nil
	}

	out := filepath.Join(c.scratch, fmt.Sprintf("silence_%d.wav", ms))
	cmd := transcoder.NewCommandBuilder(c.renderer.cfg.TranscoderBin).
		HideBanner().
		Overwrite().
		LavfiInput(silenceGraph(ms)).
		AudioCodec("pcm_s16le").
		SampleRate(sampleRateHz).
		AudioChannels(1).
		Output(out).
		Build()

	if err := c.renderer.run(ctx, cmd, c.opts.StageTimeout, 0, nil); err != nil {
		return "", err
	}
	c.files[ms] = out
	return out, nil
}

// RenderVocalStem synthesizes the formant vocal track, writes the caption
// file, and folds the vocal into the mastered mix when one exists.
func (r *Renderer) RenderVocalStem(ctx context.Context, scopeID string, plan *planner.MusicPlan, opts Options) error {
	done := r.timeStage("vocals")
	defer done()

	scratch := r.ScratchDir(scopeID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return models.NewClassifiedf(models.ErrClassInternalError, "creating scratch dir: %v", err)
	}

	rootHz := sequencer.RootFrequencyHz(plan.Key)
	vocals := filepath.Join(scratch, FileVocals)
	cmd := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
		HideBanner().
		Overwrite().
		LavfiInput(vocalCarrierGraph(rootHz, plan.DurationSec)).
		FilterComplex(vocalGraph()).
		Map("[out]").
		AudioCodec("pcm_s16le").
		SampleRate(sampleRateHz).
		AudioChannels(1).
		Duration(float64(plan.DurationSec)).
		Output(vocals).
		Build()
	if err := r.run(ctx, cmd, opts.StageTimeout, float64(plan.DurationSec), nil); err != nil {
		return err
	}
	if err := r.verifyAudio(ctx, vocals); err != nil {
		return err
	}

	srt := FormatSRT(BuildCaptions(opts.Lyrics, plan.DurationSec))
	captions := filepath.Join(scratch, FileCaptions)
	if err := os.WriteFile(captions, []byte(srt), 0o644); err != nil {
		return models.NewClassifiedf(models.ErrClassInternalError, "writing captions: %v", err)
	}

	mix := filepath.Join(scratch, FileMix)
	if _, err := os.Stat(mix); err != nil {
		// No mix yet; the mix stage has not run in this scope.
		return nil
	}
	return r.foldVocals(ctx, scratch, plan, mix, vocals, opts)
}

// foldVocals remixes the mastered mix with the vocal stem at reduced weight,
// replacing mix.wav.
func (r *Renderer) foldVocals(ctx context.Context, scratch string, plan *planner.MusicPlan, mix, vocals string, opts Options) error {
	tmp := filepath.Join(scratch, "mix_vocal.wav")
	remix := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
		HideBanner().
		Overwrite().
		Input(mix).
		Input(vocals).
		FilterComplex(remixGraph(vocalMixWeight)).
		Map("[out]").
		AudioCodec("pcm_s16le").
		SampleRate(sampleRateHz).
		AudioChannels(2).
		Duration(float64(plan.DurationSec)).
		Output(tmp).
		Build()
	if err := r.run(ctx, remix, opts.StageTimeout, float64(plan.DurationSec), nil); err != nil {
		return err
	}
	if err := r.verifyAudio(ctx, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, mix); err != nil {
		return models.NewClassifiedf(models.ErrClassInternalError, "replacing mix: %v", err)
	}
	return nil
}

// RenderMix renders the equal-weight preview and the mastered mix from the
// stem tracks. The vocal stage folds its track into the mix afterwards.
func (r *Renderer) RenderMix(ctx context.Context, scopeID string, plan *planner.MusicPlan, opts Options) error {
	done := r.timeStage("mix")
	defer done()

	scratch := r.ScratchDir(scopeID)
	for _, stem := range sequencer.StemTypes {
		if err := r.verifyNonEmpty(filepath.Join(scratch, stemFilename(stem))); err != nil {
			return err
		}
	}

	if err := r.mixDown(ctx, scratch, plan, FilePreview, previewMixGraph(len(sequencer.StemTypes)), opts); err != nil {
		return err
	}
	if err := r.mixDown(ctx, scratch, plan, masterFile, masterMixGraph(sequencer.StemTypes), opts); err != nil {
		return err
	}

	master := filepath.Join(scratch, masterFile)
	mix := filepath.Join(scratch, FileMix)
	if err := os.Rename(master, mix); err != nil {
		return models.NewClassifiedf(models.ErrClassInternalError, "finalizing mix: %v", err)
	}
	return r.verifyAudio(ctx, mix)
}

// mixDown sums the five stem tracks through the given filtergraph into a
// stereo artifact.
func (r *Renderer) mixDown(ctx context.Context, scratch string, plan *planner.MusicPlan, filename, graph string, opts Options) error {
	out := filepath.Join(scratch, filename)
	builder := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
		HideBanner().
		Overwrite()
	for _, stem := range sequencer.StemTypes {
		builder.Input(filepath.Join(scratch, stemFilename(stem)))
	}
	cmd := builder.
		FilterComplex(graph).
		Map("[out]").
		AudioCodec("pcm_s16le").
		SampleRate(sampleRateHz).
		AudioChannels(2).
		Duration(float64(plan.DurationSec)).
		Output(out).
		Build()

	if err := r.run(ctx, cmd, opts.StageTimeout, float64(plan.DurationSec), nil); err != nil {
		return err
	}
	return r.verifyAudio(ctx, out)
}

// RenderVideo muxes the final mix with the selected visual into an H.264/AAC
// MP4 at 1280x720 30fps.
func (r *Renderer) RenderVideo(ctx context.Context, scopeID string, plan *planner.MusicPlan, opts Options) error {
	done := r.timeStage("video")
	defer done()

	scratch := r.ScratchDir(scopeID)
	mix := filepath.Join(scratch, FileMix)
	if err := r.verifyNonEmpty(mix); err != nil {
		return err
	}

	captions := filepath.Join(scratch, FileCaptions)
	hasCaptions := true
	if _, err := os.Stat(captions); err != nil {
		hasCaptions = false
	}

	style := opts.VideoStyle
	if style == "" {
		style = VideoStyleWaveform
		if hasCaptions {
			style = VideoStyleLyric
		}
	}
	if style == VideoStyleLyric && !hasCaptions {
		style = VideoStyleWaveform
	}

	out := filepath.Join(scratch, FileVideo)
	builder := transcoder.NewCommandBuilder(r.cfg.TranscoderBin).
		HideBanner().
		Overwrite().
		Stats()

	audioMap := "0:a"
	switch style {
	case VideoStyleLyric:
		builder.
			LavfiInput(lyricBackgroundGraph(plan.DurationSec)).
			Input(mix).
			FilterComplex(lyricVideoGraph(captions))
		audioMap = "1:a"
	case VideoStyleSpectrum:
		builder.
			Input(mix).
			FilterComplex(spectrumVideoGraph())
	default:
		builder.
			Input(mix).
			FilterComplex(waveformVideoGraph())
	}

	cmd := builder.
		Map("[vout]").
		Map(audioMap).
		VideoCodec("libx264").
		OutputArgs("-profile:v", "main").
		VideoPreset("veryfast").
		PixelFormat("yuv420p").
		FrameRate(videoFPS).
		AudioCodec("aac").
		AudioBitrate(audioBitrate).
		Shortest().
		MovFlags("+faststart").
		Duration(float64(plan.DurationSec)).
		Output(out).
		Build()

	if err := r.run(ctx, cmd, opts.StageTimeout, float64(plan.DurationSec), nil); err != nil {
		return err
	}
	return r.verifyVideo(ctx, out)
}

// Upload pushes the pipeline's artifacts to the store under the scope's
// deterministic asset prefix. preview.wav and mix.wav are required; the vocal,
// caption, and video artifacts are uploaded when present in scratch.
func (r *Renderer) Upload(ctx context.Context, scopeID string, plan *planner.MusicPlan) (*Result, error) {
	done := r.timeStage("upload")
	defer done()

	scratch := r.ScratchDir(scopeID)
	assetUUID := storage.AssetUUIDForJob(scopeID)
	now := time.Now().UTC()
	result := &Result{AssetUUID: assetUUID}

	audioMeta := models.JSON(fmt.Sprintf(`{"sample_rate":%d,"channels":2,"bpm":%d,"key":%q}`,
		sampleRateHz, plan.BPM, plan.Key))
	videoMeta := models.JSON(fmt.Sprintf(`{"width":%d,"height":%d,"fps":%d,"pix_fmt":"yuv420p"}`,
		videoWidth, videoHeight, videoFPS))

	artifacts := []struct {
		filename string
		kind     models.AssetKind
		required bool
		meta     models.JSON
	}{
		{FilePreview, models.AssetKindWAV, true, audioMeta},
		{FileMix, models.AssetKindWAV, true, audioMeta},
		{FileVocals, models.AssetKindWAV, false, nil},
		{FileCaptions, models.AssetKindSRT, false, nil},
		{FileVideo, models.AssetKindMP4, false, videoMeta},
	}

	for _, artifact := range artifacts {
		localPath := filepath.Join(scratch, artifact.filename)
		info, err := os.Stat(localPath)
		if err != nil || info.Size() == 0 {
			if artifact.required {
				return nil, models.NewClassifiedf(models.ErrClassAssetNotProduced,
					"artifact %s missing before upload", artifact.filename)
			}
			continue
		}

		key := storage.AssetKey(now, assetUUID, artifact.filename)
		if err := r.store.PutFile(ctx, key, localPath, artifact.kind.MimeType()); err != nil {
			return nil, models.NewClassifiedf(models.ErrClassDependencyUnavailable,
				"uploading %s: %v", artifact.filename, err)
		}

		var durationSec float64
		if artifact.kind == models.AssetKindWAV || artifact.kind == models.AssetKindMP4 {
			if probe, err := r.prober.Inspect(ctx, localPath); err == nil {
				durationSec = probe.DurationSeconds()
			}
		}

		result.Assets = append(result.Assets, ProducedAsset{
			Kind:        artifact.kind,
			Filename:    artifact.filename,
			Key:         key,
			URL:         r.store.URL(key),
			SizeBytes:   info.Size(),
			DurationSec: durationSec,
			Meta:        artifact.meta,
		})
	}
	return result, nil
}

// run executes one transcoder command, mapping failures onto the error
// taxonomy and counting them.
func (r *Renderer) run(ctx context.Context, cmd *transcoder.Command, timeout time.Duration, totalDuration float64, onProgress func(percent int, message string)) error {
	_, err := r.runner.Run(ctx, cmd, transcoder.RunOptions{
		Timeout:       timeout,
		TotalDuration: totalDuration,
		OnProgress:    onProgress,
	})
	if err != nil {
		switch models.Classify(err) {
		case models.ErrClassTranscoderFailed, models.ErrClassTimedOut:
			if r.metrics != nil {
				r.metrics.TranscoderErrorsTotal.Inc()
			}
		}
		return err
	}
	return nil
}

// verifyNonEmpty fails with AssetNotProduced when the file is missing or empty.
func (r *Renderer) verifyNonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "%s was not produced", filepath.Base(path))
	}
	if info.Size() == 0 {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "%s is empty", filepath.Base(path))
	}
	return nil
}

// verifyAudio checks existence plus a probe for a decodable audio stream.
func (r *Renderer) verifyAudio(ctx context.Context, path string) error {
	if err := r.verifyNonEmpty(path); err != nil {
		return err
	}
	probe, err := r.prober.Inspect(ctx, path)
	if err != nil {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "probing %s: %v", filepath.Base(path), err)
	}
	if probe.AudioStream() == nil {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "%s has no audio stream", filepath.Base(path))
	}
	return nil
}

// verifyVideo checks existence plus a probe for both stream types.
func (r *Renderer) verifyVideo(ctx context.Context, path string) error {
	if err := r.verifyNonEmpty(path); err != nil {
		return err
	}
	probe, err := r.prober.Inspect(ctx, path)
	if err != nil {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "probing %s: %v", filepath.Base(path), err)
	}
	if probe.VideoStream() == nil || probe.AudioStream() == nil {
		return models.NewClassifiedf(models.ErrClassAssetNotProduced, "%s is missing a stream", filepath.Base(path))
	}
	return nil
}

// timeStage records the stage duration histogram; the returned func closes
// the observation.
func (r *Renderer) timeStage(stage string) func() {
	started := time.Now()
	return func() {
		if r.metrics != nil {
			r.metrics.TranscoderStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
		}
	}
}
