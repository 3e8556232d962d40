package bucketevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Attribute keys carried on notification messages.
const (
	AttrSubscription = "subscription"
	AttrFilterSuffix = "filterSuffix"
)

// ObjectEvent is the typed payload delivered to a subscribed function.
type ObjectEvent struct {
	Bucket       string
	Object       string
	Event        string
	Generation   int64
	Time         time.Time
	Subscription string
	MessageID    string
}

type pushEnvelope struct {
	Message struct {
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePushRequest reads a Pub/Sub push envelope carrying a storage
// notification. It also returns the suffix filter attached to the message.
func DecodePushRequest(r io.Reader) (ObjectEvent, string, error) {
	var env pushEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return ObjectEvent{}, "", fmt.Errorf("failed to decode push envelope: %w", err)
	}
	attrs := env.Message.Attributes
	if attrs["bucketId"] == "" || attrs["objectId"] == "" {
		return ObjectEvent{}, "", errors.New("push message is not a storage notification")
	}

	ev := ObjectEvent{
		Bucket:       attrs["bucketId"],
		Object:       attrs["objectId"],
		Event:        EventFromGCS(attrs["eventType"]),
		Subscription: attrs[AttrSubscription],
		MessageID:    env.Message.MessageID,
		Time:         env.Message.PublishTime,
	}
	if g := attrs["objectGeneration"]; g != "" {
		gen, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			return ObjectEvent{}, "", fmt.Errorf("invalid objectGeneration %q: %w", g, err)
		}
		ev.Generation = gen
	}
	if t := attrs["eventTime"]; t != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			ev.Time = parsed
		}
	}
	return ev, attrs[AttrFilterSuffix], nil
}

// PushHandler serves Pub/Sub push deliveries to fn. Objects that do not match
// the message's suffix filter are acknowledged without calling fn. An error
// from fn yields a 500 so the message is redelivered.
func PushHandler(fn func(ctx context.Context, ev ObjectEvent) error, logger zerolog.Logger) http.Handler {
	log := logger.With().Str("component", "PushHandler").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ev, suffix, err := DecodePushRequest(r.Body)
		if err != nil {
			log.Warn().Err(err).Msg("Rejecting malformed push request")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if suffix != "" && !strings.HasSuffix(ev.Object, suffix) {
			log.Debug().Str("object", ev.Object).Str("suffix", suffix).Msg("Object does not match suffix filter, skipping")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := fn(r.Context(), ev); err != nil {
			log.Error().Err(err).Str("bucket", ev.Bucket).Str("object", ev.Object).Msg("Handler failed")
			http.Error(w, "handler failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
