package repository

import "errors"

// ErrNotFound — запрошенной строки нет (не ошибка соединения).
var ErrNotFound = errors.New("not found")
