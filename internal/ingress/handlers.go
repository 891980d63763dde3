package ingress

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// signatureHeader carries the provider's claimed HMAC for POST deliveries.
const signatureHeader = "X-Twitter-Webhooks-Signature"

// Publisher publishes canonical events. Implemented by the event bus.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Handlers serves the webhook endpoint.
type Handlers struct {
	verifier   *Verifier
	translator *Translator
	bus        Publisher
	logger     logging.Logger
}

func NewHandlers(verifier *Verifier, translator *Translator, bus Publisher, logger logging.Logger) *Handlers {
	return &Handlers{
		verifier:   verifier,
		translator: translator,
		bus:        bus,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. All methods land on one
// handler so unsupported methods get the provider-expected 400 body.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.Any("/webhook", h.Webhook)
}

// Webhook dispatches on method: GET is the CRC handshake, POST is an
// activity delivery, anything else is rejected.
func (h *Handlers) Webhook(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet:
		h.handleCRC(c)
	case http.MethodPost:
		h.handleActivity(c)
	default:
		c.String(http.StatusBadRequest, "Invalid METHOD")
	}
}

func (h *Handlers) handleCRC(c *gin.Context) {
	token := c.Query("crc_token")

	response, err := h.verifier.CRC(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, ErrMissingToken) {
			h.logger.Warn("CRC request without crc_token")
			c.String(http.StatusBadRequest, "No crc_token given")
			return
		}
		h.logger.WithError(err).Error("Failed to answer CRC challenge")
		c.String(http.StatusInternalServerError, "Error")
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handlers) handleActivity(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.String(http.StatusInternalServerError, "Error")
		return
	}
	if len(body) == 0 {
		h.logger.Warn("Webhook delivery without body")
		c.String(http.StatusBadRequest, "No body")
		return
	}

	if err := h.verifier.Verify(c.Request.Context(), body, c.GetHeader(signatureHeader)); err != nil {
		switch {
		case errors.Is(err, ErrMissingToken):
			h.logger.Warn("Webhook delivery without signature header")
			c.String(http.StatusBadRequest, "No signature")
		case errors.Is(err, ErrInvalidSignature):
			h.logger.Warn("Rejected webhook delivery with bad signature")
			c.String(http.StatusUnauthorized, "Invalid signature")
		default:
			h.logger.WithError(err).Error("Failed to verify webhook delivery")
			c.String(http.StatusInternalServerError, "Error")
		}
		return
	}

	translated, err := h.translator.Translate(body)
	if err != nil {
		var translationErr *TranslationError
		if errors.As(err, &translationErr) {
			h.logger.WithError(err).WithFields(logging.Fields{
				"body_bytes": len(body),
			}).Warn("Dropped untranslatable activity payload")
			c.String(http.StatusBadRequest, "Invalid payload")
			return
		}
		h.logger.WithError(err).Error("Failed to translate activity payload")
		c.String(http.StatusInternalServerError, "Error")
		return
	}

	for _, evt := range translated {
		if err := h.bus.Publish(c.Request.Context(), evt); err != nil {
			h.logger.WithError(err).WithFields(logging.Fields{
				"detail_type": evt.DetailType,
			}).Error("Failed to publish translated event")
			c.String(http.StatusInternalServerError, "Error")
			return
		}
	}

	c.String(http.StatusOK, "Accepted")
}
