package db

import "fmt"

// Storage errors. Callers match them with errors.Is; the HTTP layer maps the first three onto
// 404 and 400 responses.
var (
	ErrRepositoryNotFound = fmt.Errorf("repository not found")
	ErrItemNotFound       = fmt.Errorf("item not found")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrDatabaseConnection = fmt.Errorf("database connection error")
	ErrTransactionFailed  = fmt.Errorf("transaction failed")
	ErrSchema             = fmt.Errorf("schema setup failed")
)
