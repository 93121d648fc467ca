package model

// Role описывает роль пользователя. Набор ролей закрыт: покупатель,
// продавец, администратор.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

// Capability описывает именованную возможность, доступную роли.
type Capability string

const (
	// CapabilityFulfillment — загрузка изображений каталога и получение
	// уведомлений о заказах на исполнение.
	CapabilityFulfillment Capability = "fulfillment"
	// CapabilityAdministration — управление пользователями, заказами и отчётами.
	CapabilityAdministration Capability = "administration"
)

// Таблица соответствия ролей и возможностей. Администратор получает
// возможности продавца.
var roleCapabilities = map[Role]map[Capability]bool{
	RoleCustomer: {},
	RoleVendor: {
		CapabilityFulfillment: true,
	},
	RoleAdmin: {
		CapabilityFulfillment:    true,
		CapabilityAdministration: true,
	},
}

// Can сообщает, доступна ли роли указанная возможность.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// RoleFromFlags определяет роль по флагам учётной записи. Флаг
// администратора имеет приоритет над флагом продавца.
func RoleFromFlags(isAdmin, isVendor bool) Role {
	switch {
	case isAdmin:
		return RoleAdmin
	case isVendor:
		return RoleVendor
	default:
		return RoleCustomer
	}
}
