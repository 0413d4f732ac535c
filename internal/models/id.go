package models

import (
	"strings"

	"github.com/google/uuid"
)

// RecordIDLength длина id записей, которые клиент назначает сам
const RecordIDLength = 15

// NewRecordID генерирует id для записи, созданной на клиенте:
// 15 символов [a-f0-9], формат совместим с id backend'а.
func NewRecordID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return hex[:RecordIDLength]
}
