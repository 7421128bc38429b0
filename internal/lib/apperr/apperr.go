package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind — категория ошибки предметной области, определяет HTTP-статус на границе
type Kind int

const (
	KindUnexpected        Kind = iota // инфраструктурная ошибка — 500
	KindValidation                    // отсутствующий/некорректный ввод — 400
	KindNotFound                      // сущность не найдена — 404
	KindIntegrity                     // несоответствие ссылок (товар/продавец) — 400
	KindInsufficientFunds             // вывод превышает баланс — 400
	KindAuthorization                 // нет роли/владения — 403
)

// Error — ошибка с категорией; оборачивает исходную причину, если она есть
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf извлекает категорию из цепочки ошибок; без категории — Unexpected
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Message возвращает сообщение для клиента; внутренности
// инфраструктурных ошибок наружу не отдаются
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnexpected {
		return e.Msg
	}
	return "internal server error"
}

// HTTPStatus — отображение категории на HTTP-статус
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindIntegrity, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
