// Package message определяет минимальную модель сообщений, которой оперирует
// движок маршрутизации: command/result с единственным полем назначения.
// Разбор графа, схема значений и сериализация остаются вне этого пакета —
// движок работает с уже построенными значениями Message.
package message

import "github.com/google/uuid"

// Type различает команды, которые движок умеет распознавать на своём уровне.
// Любые прочие типы (Data, Video, ...) проходят транзитом как Generic.
type Type int

const (
	// Generic — команда или данные без специальной обработки движком.
	Generic Type = iota
	// CmdStartGraph — запрос на развёртывание графа, адресованный одноранговому приложению.
	CmdStartGraph
	// CmdResult — результат выполнения ранее отправленной команды.
	CmdResult
)

func (t Type) String() string {
	switch t {
	case CmdStartGraph:
		return "start_graph"
	case CmdResult:
		return "cmd_result"
	default:
		return "generic"
	}
}

// StatusCode — исход выполнения команды, переносимый в CmdResult.
type StatusCode int

const (
	// StatusOK — команда выполнена успешно.
	StatusOK StatusCode = iota
	// StatusError — команда завершилась ошибкой; подробности в CmdResult.Detail.
	StatusError
)

// Dest — единственное на данный момент место назначения сообщения.
// Движок работает только со случаем dest_cnt == 1 (см. Router).
type Dest struct {
	AppURI  string
	GraphID string
}

// Message — команда или блок данных, перемещаемые между приложениями.
// SrcGraphID/Dest заполняются при первом пересечении границы движка, если
// были пусты (см. receive_msg_from_remote).
type Message struct {
	ID         string
	Type       Type
	Name       string
	Dest       []Dest
	SrcGraphID string
	Properties map[string]any

	// Result заполнено только для Type == CmdResult.
	Result *CmdResult
}

// CmdResult — исход выполнения команды с ID ForCmdID.
type CmdResult struct {
	ForCmdID string
	Status   StatusCode
	Detail   string
}

// NewCmd создаёт команду с сгенерированным идентификатором.
func NewCmd(name string, dest Dest) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: Generic,
		Name: name,
		Dest: []Dest{dest},
	}
}

// NewStartGraph строит команду start_graph, нацеленную на одного пира.
// Используется StartGraphOrchestrator для клонирования "per-hop" команды.
func NewStartGraph(dest Dest, properties map[string]any) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Type:       CmdStartGraph,
		Name:       "start_graph",
		Dest:       []Dest{dest},
		Properties: properties,
	}
}

// DestURI возвращает URI первого (и единственного поддерживаемого) назначения.
// Пустая строка, если сообщение не адресовано.
func (m *Message) DestURI() string {
	if len(m.Dest) == 0 {
		return ""
	}
	return m.Dest[0].AppURI
}

// IsCmd сообщает, ожидает ли сообщение cmd_result на обратном пути.
// Данные (Type == Generic без имени команды) не тарифицируются результатом.
func (m *Message) IsCmd() bool {
	return m.Type == CmdStartGraph || m.Type == CmdResult || m.Name != ""
}

// NewErrorResult строит синтетический ERROR-результат для команды forCmdID.
func NewErrorResult(forCmdID, detail string) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: CmdResult,
		Name: "cmd_result",
		Result: &CmdResult{
			ForCmdID: forCmdID,
			Status:   StatusError,
			Detail:   detail,
		},
	}
}

// NewOKResult строит синтетический OK-результат для команды forCmdID.
func NewOKResult(forCmdID string) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: CmdResult,
		Name: "cmd_result",
		Result: &CmdResult{
			ForCmdID: forCmdID,
			Status:   StatusOK,
		},
	}
}
