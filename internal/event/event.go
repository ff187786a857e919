// Package event defines the normalized unit of work handed to the
// controller for every new order.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/pkg/json"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// Event announces one new order of one business.
type Event struct {
	Business     string
	ID           string
	CustomerName string
	Timestamp    time.Time
}

// New builds the event for order o read from business's source. The
// composite id is "<type code>-<identifier padded to 6 digits>".
func New(business string, o source.Order, now time.Time) (Event, error) {
	if business == "" {
		return Event{}, linkerrors.New(linkerrors.ErrorTypeProcessing, "business name is empty").
			WithDetail("order_id", o.ID)
	}
	typeCode := strings.TrimSpace(o.TypeCode)
	if typeCode == "" {
		return Event{}, linkerrors.New(linkerrors.ErrorTypeProcessing, "order has no type code").
			WithDetail("business", business).
			WithDetail("order_id", o.ID)
	}
	if o.ID < 0 {
		return Event{}, linkerrors.Newf(linkerrors.ErrorTypeProcessing, "negative order id %d", o.ID).
			WithDetail("business", business)
	}

	return Event{
		Business:     business,
		ID:           CompositeID(typeCode, o.ID),
		CustomerName: o.CustomerName,
		Timestamp:    now,
	}, nil
}

// CompositeID formats the public order reference.
func CompositeID(typeCode string, id int64) string {
	return fmt.Sprintf("%s-%06d", typeCode, id)
}

// wire is the JSON layout the controller consumes.
type wire struct {
	Business     string  `json:"empresa"`
	ID           string  `json:"id"`
	CustomerName string  `json:"nombre_cliente"`
	Timestamp    float64 `json:"timestamp"`
}

// MarshalJSON encodes the event with the controller's field names and the
// timestamp as fractional Unix seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{
		Business:     e.Business,
		ID:           e.ID,
		CustomerName: e.CustomerName,
		Timestamp:    float64(e.Timestamp.UnixNano()) / float64(time.Second),
	})
}

// UnmarshalJSON decodes the controller layout.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	sec := int64(w.Timestamp)
	nsec := int64((w.Timestamp - float64(sec)) * float64(time.Second))
	*e = Event{
		Business:     w.Business,
		ID:           w.ID,
		CustomerName: w.CustomerName,
		Timestamp:    time.Unix(sec, nsec),
	}
	return nil
}
