// Package gatewaya реализует провайдера с подписью SHA-512 по фиксированному списку полей.
package gatewaya

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const DefaultPayURL = "https://pay.ozow.com"

type Config struct {
	SiteCode     string
	PrivateKey   string
	CountryCode  string
	CurrencyCode string
	PayURL       string
	IsTest       bool
	SuccessURL   string
	CancelURL    string
	ErrorURL     string
	NotifyURL    string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.PayURL == "" {
		cfg.PayURL = DefaultPayURL
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "ZA"
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = "ZAR"
	}
	return &Adapter{cfg: cfg}
}

var _ gateway.Adapter = (*Adapter)(nil)

func (a *Adapter) Provider() valueobject.Provider {
	return valueobject.ProviderGatewayA
}

func (a *Adapter) Configured() bool {
	return a.cfg.SiteCode != "" && a.cfg.PrivateKey != ""
}

// Initiate собирает подписанную ссылку на страницу оплаты.
func (a *Adapter) Initiate(ctx context.Context, req gateway.PaymentRequest) (string, error) {
	if !a.Configured() {
		return "", apperror.ErrGatewayNotConfigured
	}
	if req.Amount <= 0 {
		return "", apperror.ErrInvalidAmount
	}

	p := outboundParams{
		SiteCode:             a.cfg.SiteCode,
		CountryCode:          a.cfg.CountryCode,
		CurrencyCode:         a.cfg.CurrencyCode,
		Amount:               valueobject.FormatMinorUnits(req.Amount),
		TransactionReference: req.Reference,
		BankReference:        bankReference(req.Reference),
		Optional1:            req.OrderID.String(),
		Customer:             req.BuyerEmail,
		CancelURL:            a.cfg.CancelURL,
		ErrorURL:             a.cfg.ErrorURL,
		SuccessURL:           a.cfg.SuccessURL,
		NotifyURL:            a.cfg.NotifyURL,
		IsTest:               strconv.FormatBool(a.cfg.IsTest),
	}
	if req.MilestoneID != nil {
		p.Optional2 = req.MilestoneID.String()
	}

	values := p.values()
	values.Set("HashCheck", Sign(p.hashFields(), a.cfg.PrivateKey))
	return a.cfg.PayURL + "/?" + values.Encode(), nil
}

// VerifyWebhook пересчитывает Hash уведомления и приводит его к gateway.Event.
func (a *Adapter) VerifyWebhook(ctx context.Context, wh gateway.Webhook) (*gateway.Event, error) {
	if !a.Configured() {
		return nil, apperror.ErrGatewayNotConfigured
	}
	f := wh.Form
	if f.Get("SiteCode") != a.cfg.SiteCode {
		return nil, apperror.ErrInvalidSignature
	}

	expected := Sign(notifyHashFields(f), a.cfg.PrivateKey)
	received := strings.ToLower(f.Get("Hash"))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return nil, apperror.ErrInvalidSignature
	}

	amount, err := valueobject.ParseMajorUnits(f.Get("Amount"))
	if err != nil {
		return nil, err
	}

	return &gateway.Event{
		Provider:              valueobject.ProviderGatewayA,
		Reference:             f.Get("TransactionReference"),
		ProviderTransactionID: f.Get("TransactionId"),
		Amount:                amount,
		Status:                MapStatus(f.Get("Status")),
		RawStatus:             f.Get("Status"),
		Message:               f.Get("StatusMessage"),
		OrderID:               gateway.ParseOptionalUUID(f.Get("Optional1")),
		MilestoneID:           gateway.ParseOptionalUUID(f.Get("Optional2")),
	}, nil
}

// MapStatus переводит статус провайдера в общий.
func MapStatus(status string) gateway.EventStatus {
	switch status {
	case "Complete":
		return gateway.StatusSuccess
	case "Cancelled", "Error", "Abandoned":
		return gateway.StatusFailed
	default:
		// Pending, PendingInvestigation
		return gateway.StatusPending
	}
}

// Sign: SHA-512 от склеенных значений и приватного ключа, в нижнем регистре.
func Sign(fields []string, privateKey string) string {
	payload := strings.ToLower(strings.Join(fields, "") + privateKey)
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

type outboundParams struct {
	SiteCode             string
	CountryCode          string
	CurrencyCode         string
	Amount               string
	TransactionReference string
	BankReference        string
	Optional1            string
	Optional2            string
	Optional3            string
	Optional4            string
	Optional5            string
	Customer             string
	CancelURL            string
	ErrorURL             string
	SuccessURL           string
	NotifyURL            string
	IsTest               string
}

// hashFields порядок полей задан провайдером.
func (p outboundParams) hashFields() []string {
	return []string{
		p.SiteCode, p.CountryCode, p.CurrencyCode, p.Amount,
		p.TransactionReference, p.BankReference,
		p.Optional1, p.Optional2, p.Optional3, p.Optional4, p.Optional5,
		p.Customer, p.CancelURL, p.ErrorURL, p.SuccessURL, p.NotifyURL, p.IsTest,
	}
}

func (p outboundParams) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("SiteCode", p.SiteCode)
	set("CountryCode", p.CountryCode)
	set("CurrencyCode", p.CurrencyCode)
	set("Amount", p.Amount)
	set("TransactionReference", p.TransactionReference)
	set("BankReference", p.BankReference)
	set("Optional1", p.Optional1)
	set("Optional2", p.Optional2)
	set("Optional3", p.Optional3)
	set("Optional4", p.Optional4)
	set("Optional5", p.Optional5)
	set("Customer", p.Customer)
	set("CancelUrl", p.CancelURL)
	set("ErrorUrl", p.ErrorURL)
	set("SuccessUrl", p.SuccessURL)
	set("NotifyUrl", p.NotifyURL)
	set("IsTest", p.IsTest)
	return v
}

// notifyHashFields порядок полей в уведомлении.
func notifyHashFields(f url.Values) []string {
	return []string{
		f.Get("SiteCode"), f.Get("TransactionId"), f.Get("TransactionReference"),
		f.Get("Amount"), f.Get("Status"),
		f.Get("Optional1"), f.Get("Optional2"), f.Get("Optional3"), f.Get("Optional4"), f.Get("Optional5"),
		f.Get("CurrencyCode"), f.Get("IsTest"), f.Get("StatusMessage"),
	}
}

// bankReference короткая ссылка для выписки покупателя, не больше 20 символов.
func bankReference(reference string) string {
	ref := strings.ToUpper(strings.ReplaceAll(reference, "-", ""))
	if len(ref) > 20 {
		ref = ref[:20]
	}
	return ref
}
