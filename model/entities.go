package model

import "encoding/json"

// Permission is a single grantable permission, grouped by module in the
// access-level manager.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Module      string `json:"module"`
	Description string `json:"description,omitempty"`
}

// AccessLevel is a named bundle of permissions assigned to users.
type AccessLevel struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// Service is a vendor-provided service category entry.
type Service struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// PIC is a Person In Charge attached to a vendor.
type PIC struct {
	Name           string   `json:"name"`
	Designation    string   `json:"designation,omitempty"`
	ContactNumbers []string `json:"contact_numbers"`
	Emails         []string `json:"emails"`
}

// Vendor is a supplier of port-call services.
type Vendor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Address  string   `json:"address,omitempty"`
	Services []string `json:"services"`
	PICs     []PIC    `json:"pics"`
}

// Invoice document kinds.
const (
	InvoiceKindPDA      = "pda"
	InvoiceKindWorkDone = "work_done"
)

// InvoiceRow is one line of an invoice table. Amount is kept as entered; it is
// parsed only when totals are derived.
type InvoiceRow struct {
	No          int    `json:"no"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Remarks     string `json:"remarks,omitempty"`
}

// InvoiceTable is a titled group of invoice rows.
type InvoiceTable struct {
	Title string       `json:"title"`
	Rows  []InvoiceRow `json:"rows"`
}

// InvoiceDocument is a proforma disbursement account (PDA) or work-done
// invoice generated for a port call.
type InvoiceDocument struct {
	ID         string         `json:"id"`
	PortCallID string         `json:"port_call_id"`
	Kind       string         `json:"kind"`
	Currency   string         `json:"currency,omitempty"`
	Date       string         `json:"date"`
	Time       string         `json:"time"`
	Tables     []InvoiceTable `json:"tables"`
}

// VesselDocument is a certificate or permit with an expiry date, tracked for
// document-expiry alerts.
type VesselDocument struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	VesselName string `json:"vessel_name,omitempty"`
	ExpiryDate string `json:"expiry_date"`
}

// ListResult is the normalized shape of every collection response, whatever
// key name the endpoint uses for its items.
type ListResult struct {
	Success bool
	Items   []json.RawMessage
	Err     error
}

// Notification severities.
const (
	NotifySuccess = "success"
	NotifyFailure = "failure"
	NotifyWarning = "warning"
)

// Notification is a dismissible user-facing message raised by a form or a
// collection operation.
type Notification struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}
