// Package validation содержит функции валидации входных данных.
package validation

import "github.com/ecoplate/ecoplate-system/internal/model"

// CodePrefix — префикс кода получения вознаграждения.
const CodePrefix = "EP-"

// CodeSuffixLen — длина случайной части кода получения.
const CodeSuffixLen = 8

// IsValidRedemptionCode проверяет формат кода получения вознаграждения: EP-XXXXXXXX,
// где X — заглавная латинская буква или цифра.
func IsValidRedemptionCode(code string) bool {
	if len(code) != len(CodePrefix)+CodeSuffixLen {
		return false
	}
	if code[:len(CodePrefix)] != CodePrefix {
		return false
	}

	for i := len(CodePrefix); i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}

	return true
}

// ParseAction разбирает вид действия из пользовательского ввода.
// Неизвестные действия не имеют определённой стоимости, поэтому отклоняются.
func ParseAction(s string) (model.ActionKind, bool) {
	switch model.ActionKind(s) {
	case model.ActionConsumed, model.ActionShared, model.ActionSold, model.ActionWasted:
		return model.ActionKind(s), true
	}
	return "", false
}
