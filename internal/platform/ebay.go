package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	ebayProdBase    = "https://api.ebay.com"
	ebaySandboxBase = "https://api.sandbox.ebay.com"

	// App tokens are refreshed this long before they actually expire.
	tokenRefreshSlack = time.Minute
)

// EbayCredentials bundles the application and user credentials for the eBay
// APIs. The user token is obtained out-of-band and is only needed for writes.
type EbayCredentials struct {
	AppID     string
	CertID    string
	DevID     string
	UserToken string
}

// EbayCredentialsFromEnv loads credentials from the environment (.env honored best-effort).
func EbayCredentialsFromEnv() (EbayCredentials, error) {
	_ = godotenv.Load()
	creds := EbayCredentials{
		AppID:     os.Getenv("EBAY_APP_ID"),
		CertID:    os.Getenv("EBAY_CERT_ID"),
		DevID:     os.Getenv("EBAY_DEV_ID"),
		UserToken: os.Getenv("EBAY_USER_TOKEN"),
	}
	if creds.AppID == "" || creds.CertID == "" {
		return creds, errors.New("EBAY_APP_ID and EBAY_CERT_ID not set")
	}
	return creds, nil
}

// EbayClient talks to eBay: Browse API for reads, Trading API for bids and
// listings. App-token exchange and refresh are fully encapsulated here.
type EbayClient struct {
	base   string
	siteID string
	creds  EbayCredentials
	log    zerolog.Logger
	http   *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// EbayOption configures EbayClient construction parameters.
type EbayOption func(*EbayClient)

// WithEbayBaseURL overrides the API host, mainly for tests.
func WithEbayBaseURL(base string) EbayOption {
	return func(c *EbayClient) {
		if base != "" {
			c.base = strings.TrimSuffix(base, "/")
		}
	}
}

// WithEbayTimeout overrides the per-request timeout.
func WithEbayTimeout(d time.Duration) EbayOption {
	return func(c *EbayClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewEbayClient constructs a client against production or sandbox hosts.
func NewEbayClient(creds EbayCredentials, sandbox bool, siteID string, log zerolog.Logger, opts ...EbayOption) *EbayClient {
	base := ebayProdBase
	if sandbox {
		base = ebaySandboxBase
	}
	if siteID == "" {
		siteID = "0"
	}
	c := &EbayClient{
		base:   base,
		siteID: siteID,
		creds:  creds,
		log:    log,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the platform in logs and metrics.
func (c *EbayClient) Name() string { return "ebay" }

// appToken returns a cached OAuth2 application token, exchanging client
// credentials when the cache is empty or close to expiry.
func (c *EbayClient) appToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenRefreshSlack)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "https://api.ebay.com/oauth/api_scope")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/identity/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.creds.AppID + ":" + c.creds.CertID))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", unavailable("ebay token exchange", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", authFailure("ebay token exchange", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", unavailable("ebay token exchange", fmt.Errorf("decode response: %w", err))
	}
	if payload.AccessToken == "" {
		return "", authFailure("ebay token exchange", errors.New("empty access token"))
	}
	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.log.Debug().Time("expiry", c.tokenExpiry).Msg("ebay app token refreshed")
	return c.token, nil
}

type ebayItemResponse struct {
	ItemID          string         `json:"itemId"`
	Title           string         `json:"title"`
	CurrentBidPrice *ebayItemPrice `json:"currentBidPrice"`
	Price           *ebayItemPrice `json:"price"`
	BidCount        int            `json:"bidCount"`
	ItemEndDate     string         `json:"itemEndDate"`
}

type ebayItemPrice struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (p *ebayItemPrice) amount() (float64, bool) {
	if p == nil || p.Value == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(p.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FetchCurrentBid reads an item via the Browse API and reports its current
// bid, falling back to the fixed price when the item has no bids yet.
func (c *EbayClient) FetchCurrentBid(ctx context.Context, ref string) (Quote, error) {
	token, err := c.appToken(ctx)
	if err != nil {
		return Quote{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/buy/browse/v1/item/"+url.PathEscape(ref), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create item request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, unavailable("ebay get item", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, c.statusError("ebay get item", resp)
	}

	var item ebayItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return Quote{}, unavailable("ebay get item", fmt.Errorf("decode response: %w", err))
	}
	quote := Quote{BidCount: item.BidCount}
	if amount, ok := item.CurrentBidPrice.amount(); ok {
		quote.Amount = amount
	} else if amount, ok := item.Price.amount(); ok {
		quote.Amount = amount
	}
	return quote, nil
}

// SubmitBid places a bid through the Trading API PlaceOffer call. Requires a
// user token; app credentials alone cannot bid on a user's behalf.
func (c *EbayClient) SubmitBid(ctx context.Context, ref string, amount float64) (Receipt, error) {
	if c.creds.UserToken == "" {
		return Receipt{}, authFailure("ebay place bid", errors.New("EBAY_USER_TOKEN required for placing bids"))
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<PlaceOfferRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <RequesterCredentials>
    <eBayAuthToken>%s</eBayAuthToken>
  </RequesterCredentials>
  <ItemID>%s</ItemID>
  <Offer>
    <Action>Bid</Action>
    <MaxBid>
      <currencyID>USD</currencyID>
      <Value>%.2f</Value>
    </MaxBid>
    <Quantity>1</Quantity>
  </Offer>
</PlaceOfferRequest>`, c.creds.UserToken, ref, amount)

	text, err := c.tradingCall(ctx, "PlaceOffer", body)
	if err != nil {
		return Receipt{}, err
	}
	if strings.Contains(text, "<Ack>Failure</Ack>") {
		msg := extractXMLTag(text, "ShortMessage")
		low := strings.ToLower(msg)
		if strings.Contains(low, "bid") && (strings.Contains(low, "low") || strings.Contains(low, "higher")) {
			return Receipt{}, bidTooLow("ebay place bid", errors.New(msg))
		}
		if strings.Contains(low, "auth") || strings.Contains(low, "token") {
			return Receipt{}, authFailure("ebay place bid", errors.New(msg))
		}
		return Receipt{}, rejected("ebay place bid", errors.New(msg))
	}

	confirmation := extractXMLTag(text, "TransactionID")
	if confirmation == "" {
		confirmation = extractXMLTag(text, "CorrelationID")
	}
	if confirmation == "" {
		confirmation = "ack-success"
	}
	return Receipt{Confirmation: confirmation, Amount: amount}, nil
}

// CreateListing publishes a new Chinese-style (auction) listing via AddItem
// and returns the assigned item id.
func (c *EbayClient) CreateListing(ctx context.Context, title, description string, startPrice float64, durationDays int, images []string) (string, error) {
	if c.creds.UserToken == "" {
		return "", authFailure("ebay add item", errors.New("EBAY_USER_TOKEN required for creating listings"))
	}
	if durationDays <= 0 {
		durationDays = 7
	}
	var pictures strings.Builder
	for _, img := range images {
		fmt.Fprintf(&pictures, "<PictureURL>%s</PictureURL>\n      ", img)
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<AddItemRequest xmlns="urn:ebay:apis:eBLBaseComponents">
  <RequesterCredentials>
    <eBayAuthToken>%s</eBayAuthToken>
  </RequesterCredentials>
  <Item>
    <Title>%s</Title>
    <Description><![CDATA[%s]]></Description>
    <PrimaryCategory><CategoryID>1</CategoryID></PrimaryCategory>
    <StartPrice currencyID="USD">%.2f</StartPrice>
    <ListingDuration>Days_%d</ListingDuration>
    <ListingType>Chinese</ListingType>
    <Country>US</Country>
    <Currency>USD</Currency>
    <PictureDetails>
      %s</PictureDetails>
  </Item>
</AddItemRequest>`, c.creds.UserToken, title, description, startPrice, durationDays, pictures.String())

	text, err := c.tradingCall(ctx, "AddItem", body)
	if err != nil {
		return "", err
	}
	if strings.Contains(text, "<Ack>Failure</Ack>") {
		msg := extractXMLTag(text, "ShortMessage")
		return "", rejected("ebay add item", errors.New(msg))
	}
	itemID := extractXMLTag(text, "ItemID")
	if itemID == "" {
		return "", rejected("ebay add item", errors.New("no ItemID in response"))
	}
	return itemID, nil
}

func (c *EbayClient) tradingCall(ctx context.Context, callName, body string) (string, error) {
	op := "ebay " + callName
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ws/api.dll", strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create trading request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-EBAY-API-SITEID", c.siteID)
	req.Header.Set("X-EBAY-API-COMPATIBILITY-LEVEL", "1225")
	req.Header.Set("X-EBAY-API-CALL-NAME", callName)
	req.Header.Set("X-EBAY-API-APP-NAME", c.creds.AppID)
	req.Header.Set("X-EBAY-API-DEV-NAME", c.creds.DevID)
	req.Header.Set("X-EBAY-API-CERT-NAME", c.creds.CertID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", unavailable(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(op, resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable(op, fmt.Errorf("read response: %w", err))
	}
	return string(raw), nil
}

func (c *EbayClient) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return authFailure(op, err)
	case resp.StatusCode >= 500:
		return unavailable(op, err)
	default:
		return rejected(op, err)
	}
}

// extractXMLTag pulls the first <tag>...</tag> payload out of a Trading API
// response without a full XML parse (responses are flat and small).
func extractXMLTag(text, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(text, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(text[start:], closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(text[start : start+end])
}
