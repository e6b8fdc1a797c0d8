package errors

// Level is the severity of a user-visible notification.
type Level string

// Notification levels.
const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is the transient, user-visible form of an error.
type Notification struct {
	Level    Level
	Category Category
	Message  string
}

// Notify converts err into a notification for the UI layer.
// Permission errors are warnings: the view degrades instead of failing.
func Notify(err error) Notification {
	cat := Categorize(err)
	n := Notification{Level: LevelError, Category: cat, Message: err.Error()}
	if cat == CategoryPermission {
		n.Level = LevelWarning
	}
	return n
}
