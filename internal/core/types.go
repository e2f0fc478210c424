package core

// Speed bounds accepted by the inference handler.
const (
	MinSpeed     = 0.3
	MaxSpeed     = 2.0
	DefaultSpeed = 1.0
)

// Fixed quality parameters used for every synthesis call.
const (
	CrossFadeSeconds = 0.15
	NFESteps         = 32
)

// Request is a single synthesis request as received from a surface.
type Request struct {
	// ReferenceAudio holds the raw reference clip. A nil slice means the
	// caller did not supply one.
	ReferenceAudio []byte
	// ReferenceName is the original file name, used for logging only.
	ReferenceName string
	// ReferenceTranscript is normally empty, which asks for auto-transcription.
	ReferenceTranscript string
	TargetText          string
	// Speed of zero is treated as DefaultSpeed.
	Speed float64
}

// Result is the output of a successful synthesis.
//
// SpectrogramPath points to a temporary PNG owned by the caller, who is
// responsible for removing it once consumed.
type Result struct {
	Waveform        []float32
	SampleRate      int
	SpectrogramPath string
}

// ReferenceAudio is a preprocessed reference clip at the vocoder sample rate.
type ReferenceAudio struct {
	Samples    []float32
	SampleRate int
	Transcript string
}

// Spectrogram is a mel spectrogram stored row-major as [mel][frame].
type Spectrogram struct {
	Mels   int       `json:"mels"`
	Frames int       `json:"frames"`
	Data   []float32 `json:"data"`
}

// At returns the value at the given mel bin and frame.
func (s Spectrogram) At(mel, frame int) float32 {
	return s.Data[mel*s.Frames+frame]
}

// Architecture holds the fixed hyperparameters of the diffusion transformer.
type Architecture struct {
	Dim        int `json:"dim"`
	Depth      int `json:"depth"`
	Heads      int `json:"heads"`
	FFMult     int `json:"ff_mult"`
	TextDim    int `json:"text_dim"`
	ConvLayers int `json:"conv_layers"`
}

// ModelHandle describes the loaded synthesis model. It is built once at
// startup and never mutated afterwards.
type ModelHandle struct {
	Name           string       `json:"name"`
	Architecture   Architecture `json:"architecture"`
	CheckpointPath string       `json:"checkpoint_path"`
	VocabPath      string       `json:"vocab_path"`
	VocabSize      int          `json:"vocab_size"`
}

// VocoderHandle describes the loaded vocoder.
type VocoderHandle struct {
	Name        string `json:"name"`
	SampleRate  int    `json:"sample_rate"`
	MelChannels int    `json:"mel_channels"`
	HopLength   int    `json:"hop_length"`
	LocalPath   string `json:"local_path,omitempty"`
}

// GenerateJob is one chunk of work for the generator backend.
type GenerateJob struct {
	Reference      ReferenceAudio
	ReferenceText  string
	TargetText     string
	DurationFrames int
	NFESteps       int
	Speed          float64
	Model          *ModelHandle
	Vocoder        *VocoderHandle
}

// GenerateOutput is the audio and spectrogram produced for one chunk.
type GenerateOutput struct {
	Waveform    []float32
	SampleRate  int
	Spectrogram Spectrogram
}

// PipelineInput carries everything a full synthesis needs.
type PipelineInput struct {
	Reference         ReferenceAudio
	TargetText        string
	Model             *ModelHandle
	Vocoder           *VocoderHandle
	CrossFadeDuration float64
	NFESteps          int
	Speed             float64
}

// PipelineOutput is the blended result of a full synthesis.
type PipelineOutput struct {
	Waveform    []float32
	SampleRate  int
	Spectrogram Spectrogram
}
