package models

import "time"

const (
	// DateLayout формат даты в хранилище и API
	DateLayout = "2006-01-02"

	// TimeLayout формат времени слота
	TimeLayout = "15:04"

	// AfternoonStart граница между утренней и дневной сменой
	AfternoonStart = "14:00"

	// SlotLength длительность одного слота
	SlotLength = 30 * time.Minute

	// MaxBatchDates максимальное количество дат в пакетном запросе доступности
	MaxBatchDates = 60

	// DefaultOfferTTL время удержания предложенного слота
	DefaultOfferTTL = 24 * time.Hour

	// DefaultHotOfferTTL время удержания для "горячего" предложения
	DefaultHotOfferTTL = 15 * time.Minute

	// DefaultReconcileWindowDays горизонт материализации расписаний
	DefaultReconcileWindowDays = 60

	// DefaultTimezone часовой пояс салона
	DefaultTimezone = "Europe/Rome"
)
