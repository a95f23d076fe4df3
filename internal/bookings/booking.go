// Package bookings exports changed bookings to object storage, one object
// per processing window.
package bookings

import (
	"database/sql"
	"time"

	"github.com/watzon/vine/internal/database"
)

// Booking is one row of the source table as written to an export.
type Booking struct {
	ID            int64     `json:"id" yaml:"id,omitempty"`
	Reference     string    `json:"reference" yaml:"reference"`
	CustomerName  string    `json:"customerName" yaml:"customer_name"`
	CustomerEmail string    `json:"customerEmail,omitempty" yaml:"customer_email,omitempty"`
	Resource      string    `json:"resource" yaml:"resource"`
	Status        string    `json:"status" yaml:"status"`
	StartsAt      time.Time `json:"startsAt" yaml:"starts_at"`
	EndsAt        time.Time `json:"endsAt" yaml:"ends_at"`
	AmountCents   int64     `json:"amountCents" yaml:"amount_cents"`
	Currency      string    `json:"currency" yaml:"currency"`
	CreatedAt     time.Time `json:"createdAt" yaml:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updated_at,omitempty"`
}

var bookingColumns = []string{
	"id", "reference", "customer_name", "customer_email", "resource", "status",
	"starts_at", "ends_at", "amount_cents", "currency", "created_at", "updated_at",
}

func scanBooking(rows *sql.Rows) (*Booking, error) {
	var (
		b                                      Booking
		email                                  sql.NullString
		startsAt, endsAt, createdAt, updatedAt string
	)
	if err := rows.Scan(
		&b.ID, &b.Reference, &b.CustomerName, &email, &b.Resource, &b.Status,
		&startsAt, &endsAt, &b.AmountCents, &b.Currency, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	b.CustomerEmail = email.String

	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&b.StartsAt, startsAt},
		{&b.EndsAt, endsAt},
		{&b.CreatedAt, createdAt},
		{&b.UpdatedAt, updatedAt},
	} {
		if *f.dst, err = database.ParseTime(f.src); err != nil {
			return nil, err
		}
	}

	return &b, nil
}
