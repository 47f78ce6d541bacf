// Package gatewayb реализует провайдера с MD5-подписью по отсортированным параметрам,
// проверкой IP отправителя и обратным подтверждением уведомления.
package gatewayb

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ignatzorin/escrow-engine/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-engine/internal/gateway"
	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

const (
	DefaultProcessURL  = "https://www.payfast.co.za/eng/process"
	DefaultValidateURL = "https://www.payfast.co.za/eng/query/validate"
	DefaultTimeout     = 10 * time.Second
)

// DefaultAllowedCIDRs сети, с которых провайдер шлёт уведомления.
var DefaultAllowedCIDRs = []string{
	"197.97.145.144/28",
	"41.74.179.192/27",
	"102.216.36.0/28",
	"102.216.36.128/28",
	"144.126.193.139/32",
}

// Doer минимальный HTTP-клиент для обратного подтверждения.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	MerchantID   string
	MerchantKey  string
	Passphrase   string
	ProcessURL   string
	ValidateURL  string
	AllowedCIDRs []string
	// SkipSourceCheck отключает проверку IP, только для песочницы.
	SkipSourceCheck bool
	ReturnURL       string
	CancelURL       string
	NotifyURL       string
	Timeout         time.Duration
}

type Adapter struct {
	cfg      Config
	prefixes []netip.Prefix
	client   Doer
}

// New разбирает список сетей; некорректный CIDR в конфигурации это ошибка запуска.
func New(cfg Config, client Doer) (*Adapter, error) {
	if cfg.ProcessURL == "" {
		cfg.ProcessURL = DefaultProcessURL
	}
	if cfg.ValidateURL == "" {
		cfg.ValidateURL = DefaultValidateURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.AllowedCIDRs) == 0 {
		cfg.AllowedCIDRs = DefaultAllowedCIDRs
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	prefixes := make([]netip.Prefix, 0, len(cfg.AllowedCIDRs))
	for _, cidr := range cfg.AllowedCIDRs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("gatewayb: invalid cidr %q: %w", cidr, err)
		}
		prefixes = append(prefixes, p)
	}

	return &Adapter{cfg: cfg, prefixes: prefixes, client: client}, nil
}

var _ gateway.Adapter = (*Adapter)(nil)

func (a *Adapter) Provider() valueobject.Provider {
	return valueobject.ProviderGatewayB
}

func (a *Adapter) Configured() bool {
	return a.cfg.MerchantID != "" && a.cfg.MerchantKey != ""
}

// Initiate собирает подписанную ссылку на страницу оплаты.
func (a *Adapter) Initiate(ctx context.Context, req gateway.PaymentRequest) (string, error) {
	if !a.Configured() {
		return "", apperror.ErrGatewayNotConfigured
	}
	if req.Amount <= 0 {
		return "", apperror.ErrInvalidAmount
	}

	params := url.Values{}
	set := func(k, v string) {
		if v != "" {
			params.Set(k, v)
		}
	}
	set("merchant_id", a.cfg.MerchantID)
	set("merchant_key", a.cfg.MerchantKey)
	set("return_url", a.cfg.ReturnURL)
	set("cancel_url", a.cfg.CancelURL)
	set("notify_url", a.cfg.NotifyURL)
	set("email_address", req.BuyerEmail)
	set("m_payment_id", req.Reference)
	set("amount", valueobject.FormatMinorUnits(req.Amount))
	set("item_name", req.ItemName)
	set("custom_str1", req.OrderID.String())
	if req.MilestoneID != nil {
		set("custom_str2", req.MilestoneID.String())
	}

	params.Set("signature", Sign(params, a.cfg.Passphrase))
	return a.cfg.ProcessURL + "?" + params.Encode(), nil
}

// VerifyWebhook проверяет IP, подпись и подтверждает уведомление у провайдера.
func (a *Adapter) VerifyWebhook(ctx context.Context, wh gateway.Webhook) (*gateway.Event, error) {
	if !a.Configured() {
		return nil, apperror.ErrGatewayNotConfigured
	}
	if !a.cfg.SkipSourceCheck && !a.allowedSource(wh.SourceIP) {
		return nil, apperror.Wrap(fmt.Errorf("source %s not allowed", wh.SourceIP), apperror.ErrCodeInvalidSignature, "уведомление с неизвестного адреса")
	}

	f := wh.Form
	if f.Get("merchant_id") != "" && f.Get("merchant_id") != a.cfg.MerchantID {
		return nil, apperror.ErrInvalidSignature
	}
	expected := Sign(f, a.cfg.Passphrase)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(f.Get("signature"))) != 1 {
		return nil, apperror.ErrInvalidSignature
	}

	if err := a.confirm(ctx, f); err != nil {
		return nil, err
	}

	amount, err := valueobject.ParseMajorUnits(f.Get("amount_gross"))
	if err != nil {
		return nil, err
	}

	return &gateway.Event{
		Provider:              valueobject.ProviderGatewayB,
		Reference:             f.Get("m_payment_id"),
		ProviderTransactionID: f.Get("pf_payment_id"),
		Amount:                amount,
		Status:                MapStatus(f.Get("payment_status")),
		RawStatus:             f.Get("payment_status"),
		Message:               f.Get("payment_status"),
		OrderID:               gateway.ParseOptionalUUID(f.Get("custom_str1")),
		MilestoneID:           gateway.ParseOptionalUUID(f.Get("custom_str2")),
	}, nil
}

// confirm отправляет параметры уведомления обратно провайдеру и ждёт ответа VALID.
func (a *Adapter) confirm(ctx context.Context, f url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body := ParamString(f)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ValidateURL, strings.NewReader(body))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось подготовить запрос подтверждения")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "провайдер не подтвердил уведомление")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "провайдер не подтвердил уведомление")
	}
	if resp.StatusCode != http.StatusOK {
		return apperror.Wrap(fmt.Errorf("validate status %d", resp.StatusCode), apperror.ErrCodeGatewayUnavailable, "провайдер не подтвердил уведомление")
	}
	if strings.TrimSpace(string(raw)) != "VALID" {
		return apperror.Wrap(fmt.Errorf("validate answered %q", strings.TrimSpace(string(raw))), apperror.ErrCodeInvalidSignature, "провайдер отверг уведомление")
	}
	return nil
}

func (a *Adapter) allowedSource(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// MapStatus переводит статус провайдера в общий.
func MapStatus(status string) gateway.EventStatus {
	switch status {
	case "COMPLETE":
		return gateway.StatusSuccess
	case "CANCELLED", "FAILED":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// ParamString: ключи по алфавиту, пустые значения и signature пропускаются,
// значения обрезаются и кодируются как в форме (пробел -> "+").
func ParamString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(values.Get(k))
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+url.QueryEscape(v))
	}
	return strings.Join(parts, "&")
}

// Sign: MD5 от строки параметров с необязательной passphrase в конце.
func Sign(values url.Values, passphrase string) string {
	payload := ParamString(values)
	if passphrase != "" {
		payload += "&passphrase=" + url.QueryEscape(strings.TrimSpace(passphrase))
	}
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
