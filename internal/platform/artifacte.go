package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ArtifacteParams collects the endpoints and on-chain addresses the connector needs.
type ArtifacteParams struct {
	APIBase      string
	RPCURL       string
	Treasury     string
	Mint         string
	MintDecimals int
	Commitment   string
	// Signer is the optional custodial keypair that lets the engine push bids
	// on-chain autonomously. Without it SubmitBid fails with ErrSignerRequired
	// and the sync loop raises an operator alert instead.
	Signer solana.PrivateKey
}

// ArtifacteClient reads auction state from the Artifacte API and, when a
// signer is configured, places USD1 bids by transferring tokens to the
// treasury on-chain and notifying the API with the transaction signature.
type ArtifacteClient struct {
	api      string
	rpc      *rpc.Client
	signer   solana.PrivateKey
	treasury solana.PublicKey
	mint     solana.PublicKey
	decimals int
	commit   rpc.CommitmentType
	log      zerolog.Logger
	http     *http.Client
}

// ArtifacteOption configures ArtifacteClient construction parameters.
type ArtifacteOption func(*ArtifacteClient)

// WithArtifacteTimeout overrides the per-request timeout for API calls.
func WithArtifacteTimeout(d time.Duration) ArtifacteOption {
	return func(c *ArtifacteClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// SignerFromEnv loads the custodial keypair from SOLANA_PRIVATE_KEY_BASE58
// (.env honored best-effort). An unset variable is not an error: it simply
// means the engine runs without autonomous on-chain pushes.
func SignerFromEnv() (solana.PrivateKey, error) {
	_ = godotenv.Load()
	b58 := os.Getenv("SOLANA_PRIVATE_KEY_BASE58")
	if b58 == "" {
		return nil, nil
	}
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("parse SOLANA_PRIVATE_KEY_BASE58: %w", err)
	}
	return key, nil
}

// NewArtifacteClient validates the on-chain addresses and builds a connector.
func NewArtifacteClient(p ArtifacteParams, log zerolog.Logger, opts ...ArtifacteOption) (*ArtifacteClient, error) {
	if p.APIBase == "" {
		return nil, errors.New("artifacte api base required")
	}
	c := &ArtifacteClient{
		api:      strings.TrimSuffix(p.APIBase, "/"),
		signer:   p.Signer,
		decimals: p.MintDecimals,
		commit:   parseCommitment(p.Commitment),
		log:      log,
		http:     &http.Client{Timeout: 8 * time.Second},
	}
	if c.decimals <= 0 {
		c.decimals = 6
	}
	if p.Signer != nil {
		treasury, err := solana.PublicKeyFromBase58(p.Treasury)
		if err != nil {
			return nil, fmt.Errorf("parse treasury: %w", err)
		}
		mint, err := solana.PublicKeyFromBase58(p.Mint)
		if err != nil {
			return nil, fmt.Errorf("parse mint: %w", err)
		}
		if p.RPCURL == "" {
			return nil, errors.New("rpc url required when a signer is configured")
		}
		c.treasury = treasury
		c.mint = mint
		c.rpc = rpc.New(p.RPCURL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseCommitment(commit string) rpc.CommitmentType {
	switch commit {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// Name identifies the platform in logs and metrics.
func (c *ArtifacteClient) Name() string { return "artifacte" }

// CanSubmit reports whether the connector can push bids autonomously.
func (c *ArtifacteClient) CanSubmit() bool { return c.signer != nil }

type artifacteAuctionResponse struct {
	CurrentBid float64 `json:"currentBid"`
	BidCount   int     `json:"bidCount"`
}

// FetchCurrentBid reads the auction's highest bid from the Artifacte API.
func (c *ArtifacteClient) FetchCurrentBid(ctx context.Context, ref string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api+"/api/auctions/"+ref, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create auction request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, unavailable("artifacte get auction", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 {
			return Quote{}, unavailable("artifacte get auction", err)
		}
		return Quote{}, rejected("artifacte get auction", err)
	}

	var payload artifacteAuctionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, unavailable("artifacte get auction", fmt.Errorf("decode response: %w", err))
	}
	return Quote{Amount: payload.CurrentBid, BidCount: payload.BidCount}, nil
}

// SubmitBid transfers the bid amount in USD1 to the treasury on-chain, then
// notifies the Artifacte API so the auction record reflects the new bid.
func (c *ArtifacteClient) SubmitBid(ctx context.Context, ref string, amount float64) (Receipt, error) {
	if c.signer == nil {
		return Receipt{}, ErrSignerRequired
	}

	tokenAmount := uint64(math.Round(amount * math.Pow10(c.decimals)))
	owner := c.signer.PublicKey()

	senderATA, _, err := solana.FindAssociatedTokenAddress(owner, c.mint)
	if err != nil {
		return Receipt{}, fmt.Errorf("derive sender token account: %w", err)
	}
	treasuryATA, _, err := solana.FindAssociatedTokenAddress(c.treasury, c.mint)
	if err != nil {
		return Receipt{}, fmt.Errorf("derive treasury token account: %w", err)
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commit)
	if err != nil {
		return Receipt{}, unavailable("artifacte blockhash", err)
	}

	transfer := token.NewTransferInstruction(tokenAmount, senderATA, treasuryATA, owner, nil).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{transfer}, recent.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return Receipt{}, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &c.signer
		}
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commit,
	})
	if err != nil {
		return Receipt{}, unavailable("artifacte send transaction", err)
	}

	if err := c.notifyBid(ctx, ref, amount, owner.String(), sig.String()); err != nil {
		// The transfer is final at this point; a failed notification only
		// delays the API catching up, so it must not fail the push.
		c.log.Warn().Err(err).Str("slug", ref).Str("sig", sig.String()).Msg("bid placed on-chain but api notification failed")
	}
	return Receipt{Confirmation: sig.String(), Amount: amount}, nil
}

func (c *ArtifacteClient) notifyBid(ctx context.Context, ref string, amount float64, wallet, sig string) error {
	payload, err := json.Marshal(map[string]any{
		"amount":      amount,
		"wallet":      wallet,
		"txSignature": sig,
		"source":      "sync-engine",
	})
	if err != nil {
		return fmt.Errorf("marshal bid notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api+"/api/auctions/"+ref+"/bid", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create bid notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post bid notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bid notification status %d", resp.StatusCode)
	}
	return nil
}
