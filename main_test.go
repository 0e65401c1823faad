package main

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/smazurov/camwatch/internal/monitor"
)

func TestOptionsDefaultNotificationCap(t *testing.T) {
	field, ok := reflect.TypeOf(Options{}).FieldByName("MaxNotifications")
	if !ok {
		t.Fatal("Options has no MaxNotifications field")
	}
	got, err := strconv.Atoi(field.Tag.Get("default"))
	if err != nil {
		t.Fatalf("default tag: %v", err)
	}
	if got != monitor.DefaultMaxNotifications {
		t.Errorf("MaxNotifications default = %d, want %d", got, monitor.DefaultMaxNotifications)
	}
}
