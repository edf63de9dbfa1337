package types

type SyncMode string

type CommissionStatus string

type ReferralStatus string

const (
	SyncModeInitial SyncMode = "initial"
	SyncModeRegular SyncMode = "regular"
	SyncModeManual  SyncMode = "manual"
)

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusConfirmed CommissionStatus = "confirmed"
	CommissionStatusCancelled CommissionStatus = "cancelled"
	CommissionStatusPaid      CommissionStatus = "paid"
)

const (
	ReferralStatusPending  ReferralStatus = "pending"
	ReferralStatusActive   ReferralStatus = "active"
	ReferralStatusInactive ReferralStatus = "inactive"
)

func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeInitial, SyncModeRegular, SyncModeManual:
		return true
	}
	return false
}

func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionStatusPending, CommissionStatusConfirmed, CommissionStatusCancelled, CommissionStatusPaid:
		return true
	}
	return false
}

func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralStatusPending, ReferralStatusActive, ReferralStatusInactive:
		return true
	}
	return false
}
