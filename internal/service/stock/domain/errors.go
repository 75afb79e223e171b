// internal/service/stock/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorCode 是返回给调用方（RPC 响应、DLT 消息头）的稳定错误码。
type ErrorCode string

const (
	CodeInvalidInput              ErrorCode = "INVALID_INPUT"
	CodeInsufficientStock         ErrorCode = "INSUFFICIENT_STOCK"
	CodeInsufficientReservedStock ErrorCode = "INSUFFICIENT_RESERVED_STOCK"
	CodeReservationNotFound       ErrorCode = "RESERVATION_NOT_FOUND"
	CodeReservationMismatch       ErrorCode = "RESERVATION_MISMATCH"
	CodeDatabaseOperation         ErrorCode = "DATABASE_OPERATION_ERROR"
	CodeEventPublish              ErrorCode = "EVENT_PUBLISH_ERROR"
)

// 用于 errors.Is 判断错误种类的哨兵值，只比较 Code。
var (
	ErrInvalidInput              = &StockError{Code: CodeInvalidInput}
	ErrInsufficientStock         = &StockError{Code: CodeInsufficientStock}
	ErrInsufficientReservedStock = &StockError{Code: CodeInsufficientReservedStock}
	ErrReservationNotFound       = &StockError{Code: CodeReservationNotFound}
	ErrReservationMismatch       = &StockError{Code: CodeReservationMismatch}
	ErrDatabaseOperation         = &StockError{Code: CodeDatabaseOperation}
	ErrEventPublish              = &StockError{Code: CodeEventPublish}
)

// StockError 是库存领域的统一错误类型。
type StockError struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

func (e *StockError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *StockError) Unwrap() error { return e.Err }

// ErrorCode 供 mq.FailureHandler 写入死信消息头。
func (e *StockError) ErrorCode() string { return string(e.Code) }

func (e *StockError) Is(target error) bool {
	t, ok := target.(*StockError)
	return ok && t.Code == e.Code
}

func NewInvalidInputError(message string, context map[string]any) *StockError {
	return &StockError{Code: CodeInvalidInput, Message: message, Context: context}
}

func NewInsufficientStockError(itemID int64, available, requested int) *StockError {
	return &StockError{
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for item %d. Available: %d, Requested: %d", itemID, available, requested),
		Context: map[string]any{"itemId": itemID, "available": available, "requested": requested},
	}
}

func NewInsufficientReservedStockError(itemID int64, reserved, requested int) *StockError {
	return &StockError{
		Code:    CodeInsufficientReservedStock,
		Message: fmt.Sprintf("Insufficient reserved stock for item %d. Reserved: %d, Requested: %d", itemID, reserved, requested),
		Context: map[string]any{"itemId": itemID, "reserved": reserved, "requested": requested},
	}
}

func NewReservationNotFoundError(itemID, basketID int64) *StockError {
	return &StockError{
		Code:    CodeReservationNotFound,
		Message: fmt.Sprintf("No active reservation found for item %d in basket %d", itemID, basketID),
		Context: map[string]any{"itemId": itemID, "basketId": basketID},
	}
}

func NewReservationMismatchError(itemID int64, remaining int) *StockError {
	return &StockError{
		Code:    CodeReservationMismatch,
		Message: fmt.Sprintf("Reservation mismatch for item %d. %d amount remaining unconfirmed", itemID, remaining),
		Context: map[string]any{"itemId": itemID, "remaining": remaining},
	}
}

func NewDatabaseOperationError(operation string, cause error) *StockError {
	return &StockError{
		Code:    CodeDatabaseOperation,
		Message: fmt.Sprintf("Database operation failed: %s. %v", operation, cause),
		Context: map[string]any{"operation": operation},
		Err:     cause,
	}
}

func NewEventPublishError(event string, cause error) *StockError {
	return &StockError{
		Code:    CodeEventPublish,
		Message: fmt.Sprintf("Failed to publish event: %s. %v", event, cause),
		Context: map[string]any{"event": event},
		Err:     cause,
	}
}

// CodeOf 提取错误链中的 StockError 错误码，找不到时返回 UNKNOWN。
func CodeOf(err error) ErrorCode {
	var se *StockError
	if errors.As(err, &se) {
		return se.Code
	}
	return "UNKNOWN"
}
