package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/vocalis-ai/vocalis/internal/httpc"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini synthesizes speech through the Gemini generateContent API.
// Responses are inline base64 linear PCM with the sample rate declared
// in the part's MIME type.
type Gemini struct {
	config *Config
	http   *httpc.RetryClient
}

// NewGemini creates a Gemini TTS provider.
func NewGemini(opts ...Option) (*Gemini, error) {
	config := DefaultConfig()
	config.Apply(opts...)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		config.BaseURL = geminiBaseURL
	}

	client := config.HTTPClient
	if client == nil {
		client = httpc.NewClient(config.Timeout)
	}

	return &Gemini{
		config: config,
		http: &httpc.RetryClient{
			HTTPClient:  client,
			MaxAttempts: config.MaxAttempts,
			Logger:      config.Logger,
		},
	}, nil
}

// Request/response wire types for generateContent.

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	SpeechConfig       geminiSpeechConfig `json:"speechConfig"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voiceConfig"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Synthesize converts text to PCM16 audio. Transient HTTP failures are
// retried by the underlying client; a response without a well-formed
// linear-PCM payload fails with ErrInvalidAudioResponse.
func (g *Gemini) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: text}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: geminiSpeechConfig{
				VoiceConfig: geminiVoiceConfig{
					PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: g.config.Voice},
				},
			},
		},
	})
	if err != nil {
		return nil, WrapError("gemini", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.config.BaseURL, g.config.Model)
	body, err := g.http.Post(ctx, url, payload, map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": g.config.APIKey,
	})
	if err != nil {
		return nil, WrapError("gemini", err)
	}

	pcm, sampleRate, err := decodeInlineAudio(body)
	if err != nil {
		return nil, WrapError("gemini", err)
	}

	return &AudioResult{
		PCM:        pcm,
		SampleRate: sampleRate,
		Duration:   pcmDuration(len(pcm), sampleRate),
		CharCount:  len(text),
	}, nil
}

// Close releases provider resources.
func (g *Gemini) Close() error {
	return nil
}

// decodeInlineAudio extracts the PCM payload from a generateContent
// response body.
func decodeInlineAudio(body []byte) ([]byte, int, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAudioResponse, err)
	}

	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			rate, err := parseL16Rate(part.InlineData.MIMEType)
			if err != nil {
				return nil, 0, err
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: bad base64 payload: %v", ErrInvalidAudioResponse, err)
			}
			return pcm, rate, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: no audio part in response", ErrInvalidAudioResponse)
}

// parseL16Rate extracts the sample rate from a MIME type of the form
// "audio/L16; rate=24000". Anything that is not linear PCM is
// rejected.
func parseL16Rate(mimeType string) (int, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("%w: bad MIME type %q: %v", ErrInvalidAudioResponse, mimeType, err)
	}
	if !strings.EqualFold(mediaType, "audio/L16") {
		return 0, fmt.Errorf("%w: unexpected audio format %q", ErrInvalidAudioResponse, mediaType)
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: missing sample rate in %q", ErrInvalidAudioResponse, mimeType)
	}
	return rate, nil
}

var _ Provider = (*Gemini)(nil)
