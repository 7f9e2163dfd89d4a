package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
)

const azureAssessmentFixture = `{
  "RecognitionStatus": "Success",
  "DisplayText": "Apple.",
  "NBest": [{
    "Display": "apple",
    "AccuracyScore": 88,
    "FluencyScore": 95,
    "CompletenessScore": 100,
    "PronScore": 90.4,
    "Words": [
      {"Word": "apple", "AccuracyScore": 88, "ErrorType": "None",
       "Phonemes": [{"Phoneme": "æ", "AccuracyScore": 80}, {"Phoneme": "p", "AccuracyScore": 100}, {"Phoneme": "l", "AccuracyScore": 90}]}
    ]
  }]
}`

func newAzureTestClient(t *testing.T, handler http.HandlerFunc) *AzureSpeechClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAzureSpeechClient(AzureSpeechConfig{
		APIKey: "az-key",
		Voice:  "en-GB-SoniaNeural",
		STTURL: srv.URL + "/stt",
		TTSURL: srv.URL + "/tts",
	}, zerolog.Nop())
}

func wavRequest(reference string) model.EvaluationRequest {
	return model.EvaluationRequest{AudioMimeType: "audio/wav", ReferenceText: reference, Audio: []byte("RIFF")}
}

func TestAzureEvaluate(t *testing.T) {
	c := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "az-key" {
			t.Errorf("subscription key = %q", r.Header.Get("Ocp-Apim-Subscription-Key"))
		}
		if r.URL.Query().Get("format") != "detailed" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		raw, _ := base64.StdEncoding.DecodeString(r.Header.Get("Pronunciation-Assessment"))
		var params map[string]interface{}
		json.Unmarshal(raw, &params)
		if params["ReferenceText"] != "apple" || params["Granularity"] != "Phoneme" {
			t.Errorf("assessment params = %v", params)
		}
		io.WriteString(w, azureAssessmentFixture)
	})

	got, err := c.Evaluate(context.Background(), wavRequest("apple"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got.Kind != model.KindDetailed || got.Overall != 90.4 || got.Integrity != 100 || got.Fluency != 95 || got.Pronunciation != 88 {
		t.Errorf("result = %+v", got)
	}
	if len(got.Words) != 1 || len(got.Words[0].Phonemes) != 3 || got.Words[0].Phonemes[0].Pronunciation != 80 {
		t.Errorf("words = %+v", got.Words)
	}
}

func TestAzureEvaluate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errors.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, "bad key", errors.ErrVendorUnavailable},
		{"no match", http.StatusOK, `{"RecognitionStatus":"NoMatch"}`, errors.ErrVendorError},
		{"no hypotheses", http.StatusOK, `{"RecognitionStatus":"Success","NBest":[]}`, errors.ErrMalformedResponse},
		{"not json", http.StatusOK, `<xml/>`, errors.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.Evaluate(context.Background(), wavRequest("apple"))
			if code := errors.CodeOf(err); code != tt.want {
				t.Errorf("code = %s, want %s (err = %v)", code, tt.want, err)
			}
		})
	}
}

func TestAzureEvaluate_RejectsWebm(t *testing.T) {
	c := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Evaluate(context.Background(), webmRequest("apple"))
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}

func TestAzureSynthesize(t *testing.T) {
	c := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `<voice name="en-GB-SoniaNeural">Tom &amp; Jerry</voice>`) {
			t.Errorf("ssml = %s", body)
		}
		if !strings.Contains(string(body), `xml:lang="en-GB"`) {
			t.Errorf("ssml lang = %s", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "ID3mp3")
	})

	got, err := c.Synthesize(context.Background(), "Tom & Jerry")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.MIMEType != "audio/mpeg" || string(got.Data) != "ID3mp3" {
		t.Errorf("audio = %+v", got)
	}
}

func TestDeduplicateWords(t *testing.T) {
	words := []azureWord{
		{Word: "the", AccuracyScore: 60, ErrorType: "Mispronunciation"},
		{Word: "cat", AccuracyScore: 90, ErrorType: "None"},
		{Word: "the", AccuracyScore: 80, ErrorType: "Insertion"},
	}
	got := deduplicateWords(words)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Word != "the" || got[1].ErrorType != "Insertion" || got[1].AccuracyScore != 70 {
		t.Errorf("merged word = %+v", got[1])
	}

	noInsertion := []azureWord{{Word: "a"}, {Word: "a"}}
	if got := deduplicateWords(noInsertion); len(got) != 2 {
		t.Errorf("words without an insertion were merged: %+v", got)
	}
}
