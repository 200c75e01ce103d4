package scanning

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("New", func() {
	It("builds the gozxing engines", func() {
		e, err := New("QRCode", Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Name()).To(Equal(KindQRCode))

		e, err = New(" oned ", Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Name()).To(Equal(KindOneD))
	})

	It("rejects unknown kinds", func() {
		_, err := New("zbar", Options{})
		Expect(err).To(MatchError(ErrUnknownEngine))
	})

	It("requires a Gemini API key", func() {
		_, err := New(KindGemini, Options{})
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})

	It("builds a list of engines", func() {
		engines, err := NewAll([]string{KindQRCode, KindOllama}, Options{OllamaURL: "http://ollama:11434/"})
		Expect(err).NotTo(HaveOccurred())
		Expect(engines).To(HaveLen(2))
		Expect(engines[1].Name()).To(Equal(KindOllama))
		Expect(CloseAll(engines)).To(Succeed())
	})

	It("fails the whole list when one kind is unknown", func() {
		_, err := NewAll([]string{KindQRCode, "zbar"}, Options{})
		Expect(err).To(MatchError(ErrUnknownEngine))
	})
})

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		engine *Ollama
		frame  image.Image
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		DeferCleanup(server.Close)

		var err error
		engine, err = NewOllama(server.URL(), "qwen2.5vl", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		frame = checkerboard(16)
	})

	chatReply := func(content string) ollamaChatResponse {
		return ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: content},
			Done:    true,
		}
	}

	It("sends the frame and returns the decoded text", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				var req ollamaChatRequest
				Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
				Expect(req.Model).To(Equal("qwen2.5vl"))
				Expect(req.Stream).To(BeFalse())
				Expect(req.Format).To(Equal("json"))
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Images).To(HaveLen(1))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, chatReply(`{"text": "ABC123", "format": "CODE_128"}`)),
		))

		text, err := engine.Decode(context.Background(), frame)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("ABC123"))
		Expect(server.ReceivedRequests()).To(HaveLen(1))
	})

	It("returns nothing when the model saw no code", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, chatReply(`{"text": null}`)))

		text, err := engine.Decode(context.Background(), frame)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(BeEmpty())
	})

	It("reports API errors", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		_, err := engine.Decode(context.Background(), frame)
		Expect(err).To(MatchError(ContainSubstring("status 500")))
	})

	It("reports unparseable replies", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, chatReply("I can see a barcode")))

		_, err := engine.Decode(context.Background(), frame)
		Expect(err).To(MatchError(ContainSubstring("parsing ollama reply")))
	})

	It("honours the caller's context", func() {
		server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := engine.Decode(ctx, frame)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
