package mapper

import (
	"time"

	"github.com/roofmanager/ms-go-payments/app/entity"
	"github.com/roofmanager/ms-go-payments/app/types"
)

func AttemptToResponse(item *entity.PaymentAttempt) *types.PaymentAttempt {
	if item == nil {
		return nil
	}

	completedAt := ""
	if item.CompletedAt != nil {
		completedAt = item.CompletedAt.UTC().Format(time.RFC3339)
	}

	return &types.PaymentAttempt{
		Id:                  item.ID,
		InvoiceId:           item.InvoiceID,
		Provider:            item.Provider.String(),
		ExternalReference:   item.ExternalReference,
		AmountMinor:         item.AmountMinor,
		Currency:            item.Currency,
		Status:              string(item.Status),
		RefundedAmountMinor: item.RefundedAmountMinor,
		ProviderChannel:     derefString(item.ProviderChannel),
		RefundId:            derefString(item.RefundID),
		Metadata:            cloneMetadata(item.Metadata),
		CreatedAt:           item.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:         completedAt,
	}
}

func AttemptsToResponse(items []*entity.PaymentAttempt) []*types.PaymentAttempt {
	result := make([]*types.PaymentAttempt, 0, len(items))
	for _, item := range items {
		result = append(result, AttemptToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
