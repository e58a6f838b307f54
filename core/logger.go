package core

// Logger logs messages and reports errors to the error tracker.
// expected args fmt: error | map[string]interface{} | any value carrying the acting person
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person is the learner (or admin) acting when a message is logged.
type Person struct {
	ID    string
	Name  string
	Email string
}
