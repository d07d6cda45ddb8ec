package domain

// DailyStatus 排班当天状态（派生值，不落库）
type DailyStatus string

const (
	StatusPending             DailyStatus = "Pending"
	StatusConfirmationOpen    DailyStatus = "ConfirmationOpen"
	StatusConfirmed           DailyStatus = "Confirmed"
	StatusConfirmedOutOfRange DailyStatus = "ConfirmedOutOfRange"
	StatusMissed              DailyStatus = "Missed"
)

// Confirmed reports whether a record exists for the day.
func (s DailyStatus) Confirmed() bool {
	return s == StatusConfirmed || s == StatusConfirmedOutOfRange
}
