package hcb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hackatlas/atlas/internal/model"
)

// Response types mirror HCB's jbuilder views. Only fields the app reads are
// declared; extra upstream fields are ignored.

type OrganizationSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Slug    string  `json:"slug"`
	LogoURL *string `json:"logo_url"`
	Role    string  `json:"role"`
}

type Organization struct {
	OrganizationSummary
	BalanceCents        int64   `json:"balance_cents"`
	PendingBalanceCents int64   `json:"pending_balance_cents"`
	Website             *string `json:"website"`
	Description         *string `json:"description"`
	CreatedAt           string  `json:"created_at"`
}

type Card struct {
	ID           string              `json:"id"`
	Last4        string              `json:"last4"`
	Brand        string              `json:"brand"`
	ExpMonth     int                 `json:"exp_month"`
	ExpYear      int                 `json:"exp_year"`
	Status       string              `json:"status"`
	Type         string              `json:"type"`
	Organization OrganizationSummary `json:"organization"`
	CreatedAt    string              `json:"created_at"`
}

type CardRef struct {
	ID    string `json:"id"`
	Last4 string `json:"last4"`
	Brand string `json:"brand"`
}

type CardGrant struct {
	ID           string              `json:"id"`
	AmountCents  int64               `json:"amount_cents"`
	BalanceCents int64               `json:"balance_cents"`
	Status       string              `json:"status"`
	Purpose      *string             `json:"purpose"`
	MerchantLock []string            `json:"merchant_lock"`
	CategoryLock []string            `json:"category_lock"`
	KeywordLock  *string             `json:"keyword_lock"`
	CreatedAt    string              `json:"created_at"`
	ExpiresOn    *string             `json:"expires_on"`
	Organization OrganizationSummary `json:"organization"`
	Card         *CardRef            `json:"card"`
}

type Invitation struct {
	ID           string              `json:"id"`
	Email        string              `json:"email"`
	Role         string              `json:"role"`
	Status       string              `json:"status"`
	CreatedAt    string              `json:"created_at"`
	Organization OrganizationSummary `json:"organization"`
}

type TransactionSummary struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	AmountCents   int64    `json:"amount_cents"`
	Memo          string   `json:"memo"`
	Date          string   `json:"date"`
	Status        string   `json:"status"`
	ReceiptStatus string   `json:"receipt_status"`
	Card          *CardRef `json:"card"`
}

type TransactionDetail struct {
	TransactionSummary
	CommentsCount int       `json:"comments_count"`
	Receipts      []Receipt `json:"receipts"`
}

type TransactionPage struct {
	Transactions []TransactionSummary `json:"transactions"`
	HasMore      bool                 `json:"has_more"`
	TotalCount   int                  `json:"total_count"`
}

type Receipt struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	ThumbnailURL *string `json:"thumbnail_url"`
	UploadedAt   string  `json:"uploaded_at"`
}

type Comment struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type Disbursement struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type Donation struct {
	ID          string  `json:"id"`
	AmountCents int64   `json:"amount_cents"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	DonorName   *string `json:"donor_name"`
	DonorEmail  *string `json:"donor_email"`
}

type MemoSuggestion struct {
	Memo string `json:"memo"`
}

// Request payloads.

type CreateCardGrantPayload struct {
	AmountCents  int64   `json:"amount_cents"`
	Email        string  `json:"email"`
	MerchantLock *string `json:"merchant_lock,omitempty"`
	CategoryLock *string `json:"category_lock,omitempty"`
	KeywordLock  *string `json:"keyword_lock,omitempty"`
	Purpose      *string `json:"purpose,omitempty"`
}

type CreateTransferPayload struct {
	ToOrganizationID string `json:"to_organization_id"`
	AmountCents      int64  `json:"amount_cents"`
	Name             string `json:"name"`
}

type CreateDonationPayload struct {
	AmountCents int64   `json:"amount_cents"`
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

type UpdateTransactionPayload struct {
	Memo *string `json:"memo,omitempty"`
}

type UpdateCardStatusPayload struct {
	Status string `json:"status"`
}

type UpdateCardGrantPayload struct {
	MerchantLock *string `json:"merchant_lock,omitempty"`
	CategoryLock *string `json:"category_lock,omitempty"`
	KeywordLock  *string `json:"keyword_lock,omitempty"`
	Purpose      *string `json:"purpose,omitempty"`
}

type TopupCardGrantPayload struct {
	AmountCents int64 `json:"amount_cents"`
}

// decode unmarshals a raw API answer into out, mapping JSON shape errors to
// ErrMalformedResponse.
func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// User API.

func (c *Client) User(ctx context.Context, userID int64) (*Identity, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, nil, err
	}
	var out Identity
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) UserOrganizations(ctx context.Context, userID int64) ([]OrganizationSummary, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user/organizations", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []OrganizationSummary
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

func (c *Client) UserCards(ctx context.Context, userID int64) ([]Card, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user/cards", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Card
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

func (c *Client) UserCardGrants(ctx context.Context, userID int64) ([]CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user/card_grants", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

func (c *Client) UserInvitations(ctx context.Context, userID int64) ([]Invitation, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user/invitations", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Invitation
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

func (c *Client) AcceptInvitation(ctx context.Context, userID int64, invitationID string) (*Invitation, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/user/invitations/"+invitationID+"/accept", nil)
	if err != nil {
		return nil, nil, err
	}
	var out Invitation
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) RejectInvitation(ctx context.Context, userID int64, invitationID string) (*Invitation, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/user/invitations/"+invitationID+"/reject", nil)
	if err != nil {
		return nil, nil, err
	}
	var out Invitation
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) MissingReceiptTransactions(ctx context.Context, userID int64) ([]TransactionSummary, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/user/transactions/missing_receipt", nil)
	if err != nil {
		return nil, nil, err
	}
	var out TransactionPage
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out.Transactions, td, nil
}

// Organization API.

func (c *Client) Organization(ctx context.Context, userID int64, orgID string) (*Organization, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/organizations/"+orgID, nil)
	if err != nil {
		return nil, nil, err
	}
	var out Organization
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) OrganizationTransactions(ctx context.Context, userID int64, orgID string, limit, after, txType string) (*TransactionPage, *model.TokenData, error) {
	q := buildQuery(map[string]string{"limit": limit, "after": after, "type": txType})
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/organizations/"+orgID+"/transactions"+q, nil)
	if err != nil {
		return nil, nil, err
	}
	var out TransactionPage
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) CreateCardGrant(ctx context.Context, userID int64, orgID string, payload CreateCardGrantPayload) (*CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/organizations/"+orgID+"/card_grants", payload)
	if err != nil {
		return nil, nil, err
	}
	var out CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) CreateTransfer(ctx context.Context, userID int64, orgID string, payload CreateTransferPayload) (*Disbursement, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/organizations/"+orgID+"/transfers", payload)
	if err != nil {
		return nil, nil, err
	}
	var out Disbursement
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) CreateDonation(ctx context.Context, userID int64, orgID string, payload CreateDonationPayload) (*Donation, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/organizations/"+orgID+"/donations", payload)
	if err != nil {
		return nil, nil, err
	}
	var out Donation
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

// Transaction API.

func (c *Client) Transaction(ctx context.Context, userID int64, txID string) (*TransactionDetail, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/transactions/"+txID, nil)
	if err != nil {
		return nil, nil, err
	}
	var out TransactionDetail
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) UpdateTransaction(ctx context.Context, userID int64, orgID, txID string, payload UpdateTransactionPayload) (*TransactionDetail, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPatch, "/organizations/"+orgID+"/transactions/"+txID, payload)
	if err != nil {
		return nil, nil, err
	}
	var out TransactionDetail
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) TransactionReceipts(ctx context.Context, userID int64, txID string) ([]Receipt, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/transactions/"+txID+"/receipts", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Receipt
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

// AttachReceipt uploads a receipt file against a transaction.
func (c *Client) AttachReceipt(ctx context.Context, userID int64, txID, filename string, file io.Reader) (*Receipt, *model.TokenData, error) {
	raw, td, err := c.DoMultipart(ctx, userID, "/transactions/"+txID+"/receipts", "file", filename, file)
	if err != nil {
		return nil, nil, err
	}
	var out Receipt
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) TransactionComments(ctx context.Context, userID int64, txID string) ([]Comment, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/transactions/"+txID+"/comments", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []Comment
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

func (c *Client) MemoSuggestions(ctx context.Context, userID int64, orgID, txID string) ([]MemoSuggestion, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/organizations/"+orgID+"/transactions/"+txID+"/memo_suggestions", nil)
	if err != nil {
		return nil, nil, err
	}
	var out []MemoSuggestion
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return out, td, nil
}

// Card API.

func (c *Client) Card(ctx context.Context, userID int64, cardID string) (*Card, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/cards/"+cardID, nil)
	if err != nil {
		return nil, nil, err
	}
	var out Card
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) UpdateCardStatus(ctx context.Context, userID int64, cardID string, payload UpdateCardStatusPayload) (*Card, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPatch, "/cards/"+cardID, payload)
	if err != nil {
		return nil, nil, err
	}
	var out Card
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) CardTransactions(ctx context.Context, userID int64, cardID string, missingReceipts bool) (*TransactionPage, *model.TokenData, error) {
	q := ""
	if missingReceipts {
		q = buildQuery(map[string]string{"missing_receipts": "true"})
	}
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/cards/"+cardID+"/transactions"+q, nil)
	if err != nil {
		return nil, nil, err
	}
	var out TransactionPage
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

// Card grant API.

func (c *Client) CardGrant(ctx context.Context, userID int64, grantID string) (*CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/card_grants/"+grantID, nil)
	if err != nil {
		return nil, nil, err
	}
	var out CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) UpdateCardGrant(ctx context.Context, userID int64, grantID string, payload UpdateCardGrantPayload) (*CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPatch, "/card_grants/"+grantID, payload)
	if err != nil {
		return nil, nil, err
	}
	var out CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) TopupCardGrant(ctx context.Context, userID int64, grantID string, payload TopupCardGrantPayload) (*CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/card_grants/"+grantID+"/topup", payload)
	if err != nil {
		return nil, nil, err
	}
	var out CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

func (c *Client) CancelCardGrant(ctx context.Context, userID int64, grantID string) (*CardGrant, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodPost, "/card_grants/"+grantID+"/cancel", nil)
	if err != nil {
		return nil, nil, err
	}
	var out CardGrant
	if err := decode(raw, &out); err != nil {
		return nil, nil, err
	}
	return &out, td, nil
}

// TerminalConnectionToken fetches a Stripe Terminal connection token for
// in-person donation collection.
func (c *Client) TerminalConnectionToken(ctx context.Context, userID int64) (string, *model.TokenData, error) {
	raw, td, err := c.Do(ctx, userID, http.MethodGet, "/stripe_terminal_connection_token", nil)
	if err != nil {
		return "", nil, err
	}
	var out struct {
		TerminalConnectionToken string `json:"terminal_connection_token"`
	}
	if err := decode(raw, &out); err != nil {
		return "", nil, err
	}
	return out.TerminalConnectionToken, td, nil
}
