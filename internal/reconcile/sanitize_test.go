package reconcile

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"speaker prefix", "Алиса: Привет!", "Привет!"},
		{"prefix case insensitive", "алиса - Привет!", "Привет!"},
		{"name as subject kept", "Алиса улыбается.", "Алиса улыбается."},
		{"user leak", "Конечно. User: а дальше?", "Конечно."},
		{"russian leak", "Да.\nПользователь: ещё", "Да."},
		{"username leak", "Хм. @ivan: привет", "Хм."},
		{"username leak plain", "Хм. Ivan: привет", "Хм."},
		{"leak at start kept", "User: странно", "User: странно"},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in, "Алиса", "ivan"); got != tc.want {
			t.Fatalf("%s: Sanitize(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestReconcileSanitizesStructuredReply(t *testing.T) {
	reply := Reconcile(`{"reply": "Алиса: Открой дверь. Пользователь: нет"}`, "Алиса", "")
	if reply.Text != "Открой дверь." {
		t.Fatalf("unexpected text: %q", reply.Text)
	}
}
