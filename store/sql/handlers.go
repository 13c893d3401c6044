package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordHandlers builds the repository wiring for records keyed by a string
// uuid column named id.
func recordHandlers[T any](newRecord func() T, id func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			ptr := id(record)
			if ptr == nil {
				return uuid.Nil
			}
			return parseUUID(*ptr)
		},
		SetID: func(record T, value uuid.UUID) {
			if ptr := id(record); ptr != nil {
				*ptr = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			ptr := id(record)
			if ptr == nil {
				return ""
			}
			return strings.TrimSpace(*ptr)
		},
	}
}

func bountyHandlers() repository.ModelHandlers[*bountyRecord] {
	return recordHandlers(
		func() *bountyRecord { return &bountyRecord{} },
		func(record *bountyRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func submissionHandlers() repository.ModelHandlers[*submissionRecord] {
	return recordHandlers(
		func() *submissionRecord { return &submissionRecord{} },
		func(record *submissionRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func payoutHandlers() repository.ModelHandlers[*payoutRecord] {
	return recordHandlers(
		func() *payoutRecord { return &payoutRecord{} },
		func(record *payoutRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func transactionHandlers() repository.ModelHandlers[*transactionRecord] {
	return recordHandlers(
		func() *transactionRecord { return &transactionRecord{} },
		func(record *transactionRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
