package domain

// Комната — не сущность, а производный ключ пары пользователей.
// Ключ симметричен: RoomKey(a,b) == RoomKey(b,a), разделитель единый
// для всех вызовов (сервер и клиент считают ключ одной функцией).

const roomKeySep = "_"

func RoomKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + roomKeySep + userB
}
