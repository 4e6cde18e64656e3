package services

import (
	"github.com/flashbots/aggledger/oracle"
)

// TransferOwnershipRequest hands the owner role to a new address.
type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// ProviderRequest grants or revokes the provider role for an address.
type ProviderRequest struct {
	Provider string `json:"provider"`
}

// PauseRequest toggles the ledger's pause switch.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// CooldownRequest changes the per-address cooldown.
type CooldownRequest struct {
	CooldownSeconds uint64 `json:"cooldown_seconds"`
}

// BatchRequest is the (empty) payload of the batch lifecycle endpoints. The
// envelope around it carries the authorization.
type BatchRequest struct{}

// BatchResponse acknowledges a batch lifecycle operation.
type BatchResponse struct {
	BatchID uint64 `json:"batch_id"`
}

// SubmitEntryRequest submits an encrypted (value, weight) pair into the
// current batch. Both fields are hex-encoded ciphertext handles.
type SubmitEntryRequest struct {
	Value  string `json:"value"`
	Weight string `json:"weight"`
}

// SubmitEntryResponse reports where the entry landed.
type SubmitEntryResponse struct {
	BatchID    uint64 `json:"batch_id"`
	EntryIndex uint64 `json:"entry_index"`
}

// ValuationRequest asks for the aggregate of a closed batch.
type ValuationRequest struct {
	BatchID uint64 `json:"batch_id"`
}

// ValuationResponse acknowledges the request with the oracle's correlation
// id; the plaintext arrives later through the callback.
type ValuationResponse struct {
	RequestID oracle.RequestID `json:"request_id"`
}

// FinalizeResponse acknowledges a finalized decryption.
type FinalizeResponse struct {
	RequestID  oracle.RequestID `json:"request_id"`
	TotalValue string           `json:"total_value"`
}

// StatusResponse is the ledger's public state summary.
type StatusResponse struct {
	Owner           string             `json:"owner"`
	Paused          bool               `json:"paused"`
	CooldownSeconds uint64             `json:"cooldown_seconds"`
	CurrentBatchID  uint64             `json:"current_batch_id"`
	PendingRequests []oracle.RequestID `json:"pending_requests"`
}

// EncryptRequest asks the service to encrypt a plaintext value. Only
// available when the service is configured with an encryption capability;
// real deployments encrypt client-side.
type EncryptRequest struct {
	Value string `json:"value"` // decimal
}

// EncryptResponse carries the hex-encoded ciphertext handle.
type EncryptResponse struct {
	Ciphertext string `json:"ciphertext"`
}
