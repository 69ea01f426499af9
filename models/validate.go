package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"record_type", validateRecordType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"key_slot_kind", validateKeySlotKind,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"kdf_algorithm", validateKDFAlgorithm,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"vault_state", validateVaultStateType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"vault_event_type", validateVaultEventType,
	); err != nil {
		return err
	}

	return nil
}

func validateRecordType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch RecordTypeENUMType(fl.Field().String()) {
	case RecordTypeCredential:
		fallthrough
	case RecordTypeCard:
		fallthrough
	case RecordTypeNote:
		fallthrough
	case RecordTypeIdentity:
		return true
	}
	return false
}

func validateKeySlotKind(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch KeySlotKindENUMType(fl.Field().String()) {
	case KeySlotKindPassphrase:
		fallthrough
	case KeySlotKindBiometric:
		return true
	}
	return false
}

func validateKDFAlgorithm(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch KDFAlgorithmENUMType(fl.Field().String()) {
	case KDFAlgorithmPBKDF2:
		fallthrough
	case KDFAlgorithmArgon2id:
		return true
	}
	return false
}

func validateVaultStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch VaultStateENUMType(fl.Field().String()) {
	case VaultStatePreInit:
		fallthrough
	case VaultStateInit:
		fallthrough
	case VaultStateReady:
		return true
	}
	return false
}

func validateVaultEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch VaultEventTypeENUMType(fl.Field().String()) {
	case VaultEventTypeInitializing:
		fallthrough
	case VaultEventTypeInitialized:
		fallthrough
	case VaultEventTypeUnlocked:
		fallthrough
	case VaultEventTypeLocked:
		fallthrough
	case VaultEventTypePassphraseChanged:
		fallthrough
	case VaultEventTypeBiometricEnabled:
		fallthrough
	case VaultEventTypeBiometricDisabled:
		fallthrough
	case VaultEventTypeAddNewRecord:
		fallthrough
	case VaultEventTypeDeleteRecord:
		fallthrough
	case VaultEventTypeTamperDetected:
		fallthrough
	case VaultEventTypeDestroyed:
		return true
	}
	return false
}
