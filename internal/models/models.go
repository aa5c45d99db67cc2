package models

// All: модели для AutoMigrate, в порядке зависимостей.
func All() []any {
	return []any{
		&User{},
		&Device{},
		&SignalRecord{},
		&CachedTarget{},
	}
}
