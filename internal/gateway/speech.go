package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
)

const (
	DefaultVoice      = "en-US-JennyNeural"
	ttsOutputFormat   = "audio-16khz-128kbitrate-mono-mp3"
	sttPath           = "/speech/recognition/conversation/cognitiveservices/v1"
	ttsPath           = "/cognitiveservices/v1"
	recognitionLocale = "en-US"
)

// Transcription is the recognizer output. Empty Text is a valid result.
type Transcription struct {
	Text              string  `json:"text"`
	Confidence        float64 `json:"confidence"`
	RecognitionStatus string  `json:"recognitionStatus"`
}

// Speech wraps the Azure Speech short-audio recognition and TTS REST APIs.
type Speech struct {
	sttBase string
	ttsBase string
	rest    *restClient
}

// NewSpeech uses cfg.Endpoint for both directions when set, otherwise the
// regional stt/tts hosts.
func NewSpeech(cfg config.SpeechConfig, client *http.Client) *Speech {
	s := &Speech{
		rest: &restClient{
			service: ServiceSpeech,
			http:    newHTTPClient(client),
			header:  subscriptionKeyHeader,
			key:     cfg.Key,
		},
	}
	switch {
	case cfg.Endpoint != "":
		s.sttBase = trimEndpoint(cfg.Endpoint)
		s.ttsBase = s.sttBase
	case cfg.Region != "":
		s.sttBase = fmt.Sprintf("https://%s.stt.speech.microsoft.com", cfg.Region)
		s.ttsBase = fmt.Sprintf("https://%s.tts.speech.microsoft.com", cfg.Region)
	}
	return s
}

func (s *Speech) Name() string     { return ServiceSpeech }
func (s *Speech) Configured() bool { return s.rest.key != "" && s.sttBase != "" }

type sttResponse struct {
	RecognitionStatus string  `json:"RecognitionStatus"`
	DisplayText       string  `json:"DisplayText"`
	Confidence        float64 `json:"Confidence"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
}

// Transcribe recognizes a short audio clip.
func (s *Speech) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error) {
	if !s.Configured() {
		return nil, notConfigured(ServiceSpeech)
	}
	url := s.sttBase + sttPath + "?language=" + recognitionLocale + "&format=detailed"
	req, err := s.rest.newRequest(ctx, http.MethodPost, url, bytes.NewReader(audio), audioContentType(mimeType))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.rest.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.ExternalService(ServiceSpeech, "invalid response: "+err.Error())
	}
	out := &Transcription{
		Text:              body.DisplayText,
		Confidence:        body.Confidence,
		RecognitionStatus: body.RecognitionStatus,
	}
	if len(body.NBest) > 0 {
		out.Confidence = body.NBest[0].Confidence
		if out.Text == "" {
			out.Text = body.NBest[0].Display
		}
	}
	if out.RecognitionStatus == "" {
		out.RecognitionStatus = "Unknown"
	}
	return out, nil
}

// Synthesize renders text as MP3. An empty voice means DefaultVoice.
func (s *Speech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if !s.Configured() {
		return nil, notConfigured(ServiceSpeech)
	}
	if voice == "" {
		voice = DefaultVoice
	}
	ssml, err := buildSSML(text, voice)
	if err != nil {
		return nil, apperrors.WrapExternal(ServiceSpeech, err)
	}
	req, err := s.rest.newRequest(ctx, http.MethodPost, s.ttsBase+ttsPath, strings.NewReader(ssml), "application/ssml+xml")
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Microsoft-OutputFormat", ttsOutputFormat)
	req.Header.Set("User-Agent", "smlgpt")
	resp, err := s.rest.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.WrapExternal(ServiceSpeech, err)
	}
	if len(audio) == 0 {
		return nil, apperrors.ExternalService(ServiceSpeech, "no audio data generated")
	}
	return audio, nil
}

func buildSSML(text, voice string) (string, error) {
	var escText, escVoice bytes.Buffer
	if err := xml.EscapeText(&escText, []byte(text)); err != nil {
		return "", err
	}
	if err := xml.EscapeText(&escVoice, []byte(voice)); err != nil {
		return "", err
	}
	return fmt.Sprintf("<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'>%s</voice></speak>",
		recognitionLocale, recognitionLocale, escVoice.String(), escText.String()), nil
}

// audioContentType maps upload types to what the recognizer accepts.
func audioContentType(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio/wav; codecs=audio/pcm; samplerate=16000"
	case "audio/ogg":
		return "audio/ogg; codecs=opus"
	case "":
		return "audio/wav"
	default:
		return mimeType
	}
}
