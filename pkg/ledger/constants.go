package ledger

const (
	operationCredit           = "credit"
	operationDebit            = "debit"
	operationCreateAccount    = "create_account"
	operationEffectiveBalance = "effective_balance"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
