package models

// All lists every persisted model for AutoMigrate.
var All = []any{
	&Job{},
	&Notification{},
	&Contribution{},
}
