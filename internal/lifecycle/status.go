package lifecycle

import (
	"errors"
	"strings"

	"github.com/example/order-engine/internal/models"
)

var ErrUnknownStatus = errors.New("unknown order status")

// synonyms maps the labels used by the admin and print screens onto canonical stages.
var synonyms = map[string]models.OrderStatus{
	"reviewing": models.StatusPending,
	"preparing": models.StatusProcessing,
	"printing":  models.StatusProcessing,
	"assigned":  models.StatusDriverAssigned,
	"canceled":  models.StatusCancelled,
}

var canonical = map[models.OrderStatus]struct{}{
	models.StatusPending:        {},
	models.StatusConfirmed:      {},
	models.StatusProcessing:     {},
	models.StatusReady:          {},
	models.StatusDriverAssigned: {},
	models.StatusOutForDelivery: {},
	models.StatusDelivered:      {},
	models.StatusCancelled:      {},
}

// ParseStatus normalizes a status string, resolving presentation synonyms.
func ParseStatus(in string) (models.OrderStatus, error) {
	s := strings.ToLower(strings.TrimSpace(in))
	s = strings.ReplaceAll(s, "-", "_")
	if st, ok := synonyms[s]; ok {
		return st, nil
	}
	if _, ok := canonical[models.OrderStatus(s)]; ok {
		return models.OrderStatus(s), nil
	}
	return "", ErrUnknownStatus
}

// Valid reports whether s is a canonical status.
func Valid(s models.OrderStatus) bool {
	_, ok := canonical[s]
	return ok
}

var statusTexts = map[string]map[models.OrderStatus]string{
	"en": {
		models.StatusPending:        "Under review",
		models.StatusConfirmed:      "Confirmed",
		models.StatusProcessing:     "Being prepared",
		models.StatusReady:          "Ready for pickup",
		models.StatusDriverAssigned: "Captain assigned",
		models.StatusOutForDelivery: "On the way",
		models.StatusDelivered:      "Delivered",
		models.StatusCancelled:      "Cancelled",
	},
	"ar": {
		models.StatusPending:        "قيد المراجعة",
		models.StatusConfirmed:      "تم التأكيد",
		models.StatusProcessing:     "جاري التجهيز",
		models.StatusReady:          "جاهز للاستلام",
		models.StatusDriverAssigned: "تم تعيين الكابتن",
		models.StatusOutForDelivery: "في الطريق",
		models.StatusDelivered:      "تم التوصيل",
		models.StatusCancelled:      "ملغي",
	},
}

// StatusText returns the display string for status in locale, falling back to English.
func StatusText(status models.OrderStatus, locale string) string {
	lang := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	texts, ok := statusTexts[lang]
	if !ok {
		texts = statusTexts["en"]
	}
	if t, ok := texts[status]; ok {
		return t
	}
	return string(status)
}
